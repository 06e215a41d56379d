// Package deps locates the external tools the pipeline stages shell out to.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names an external binary a stage needs and the command used to
// invoke it.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is the resolution of a single Requirement against PATH.
type Status struct {
	Requirement
	Available bool
	Path      string
	Detail    string
}

// Check resolves the requirement's command on PATH.
func (r Requirement) Check() Status {
	status := Status{Requirement: r}
	status.Command = strings.TrimSpace(r.Command)
	status.Description = strings.TrimSpace(r.Description)
	if status.Command == "" {
		status.Detail = "no command configured"
		return status
	}
	path, err := exec.LookPath(status.Command)
	if err != nil {
		status.Detail = fmt.Sprintf("%s not on PATH", status.Command)
		return status
	}
	status.Available = true
	status.Path = path
	return status
}

// CheckBinaries resolves every requirement in order.
func CheckBinaries(requirements []Requirement) []Status {
	statuses := make([]Status, len(requirements))
	for i, req := range requirements {
		statuses[i] = req.Check()
	}
	return statuses
}
