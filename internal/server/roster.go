package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Employee is one roster entry. Only id and name are required.
type Employee struct {
	ID             int    `yaml:"id"`
	Name           string `yaml:"name"`
	Department     string `yaml:"department,omitempty"`
	JobPosition    string `yaml:"job_position,omitempty"`
	EmployeeNumber string `yaml:"employee_number,omitempty"`
	Image          string `yaml:"image,omitempty"`
}

// Roster holds the employees the server may enroll and recognize.
type Roster struct {
	byID map[int]Employee
}

type rosterFile struct {
	Employees []Employee `yaml:"employees"`
}

// LoadRoster reads a YAML roster file.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster: %w", err)
	}
	return ParseRoster(data)
}

// ParseRoster decodes a YAML roster and rejects entries without an id or name, or with
// duplicate ids.
func ParseRoster(data []byte) (*Roster, error) {
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing roster: %w", err)
	}
	return NewRoster(f.Employees)
}

func NewRoster(employees []Employee) (*Roster, error) {
	r := &Roster{byID: make(map[int]Employee, len(employees))}
	for i, e := range employees {
		if e.ID <= 0 || e.Name == "" {
			return nil, fmt.Errorf("roster entry %d: id and name are required", i+1)
		}
		if _, dup := r.byID[e.ID]; dup {
			return nil, fmt.Errorf("roster entry %d: duplicate employee id %d", i+1, e.ID)
		}
		r.byID[e.ID] = e
	}
	return r, nil
}

// Lookup returns the employee with the given id.
func (r *Roster) Lookup(id int) (Employee, bool) {
	e, ok := r.byID[id]
	return e, ok
}

func (r *Roster) Len() int { return len(r.byID) }
