package cmd

import (
	"bufio"
	"io"
	"strings"
)

// readLines feeds trimmed, lower-cased stdin lines to a channel so the interactive
// commands can select on them alongside their context. The channel closes on EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- strings.TrimSpace(strings.ToLower(scanner.Text()))
		}
	}()
	return lines
}
