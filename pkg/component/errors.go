package component

import (
	"fmt"
	"strings"
)

// Problem is one structural defect found in a component document.
type Problem struct {
	// Path is a JSON pointer into the document, e.g. /pins/power.vdd.main/role.
	Path    string
	Message string
}

func (p Problem) String() string {
	if p.Path == "" {
		return p.Message
	}
	return p.Path + ": " + p.Message
}

// ValidationError reports every structural problem of one component
// document. It never covers rule text compile errors; those stay on the
// rule they belong to.
type ValidationError struct {
	Component string
	Source    string
	Problems  []Problem
}

func (e *ValidationError) Error() string {
	name := e.Component
	if name == "" {
		name = e.Source
	}
	if name == "" {
		name = "<unnamed>"
	}
	if len(e.Problems) == 1 {
		return fmt.Sprintf("component %s: %s", name, e.Problems[0])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "component %s: %d problems", name, len(e.Problems))
	for _, p := range e.Problems {
		b.WriteString("\n  ")
		b.WriteString(p.String())
	}
	return b.String()
}

type problems []Problem

func (ps *problems) add(path, format string, args ...any) {
	*ps = append(*ps, Problem{Path: path, Message: fmt.Sprintf(format, args...)})
}
