package main

import "github.com/andresmejia3/sentinel-kiosk/cmd"

func main() {
	cmd.Execute()
}
