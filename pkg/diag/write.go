package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Meta describes the evaluation run a diagnostic list belongs to.
type Meta struct {
	RunID      string `json:"run_id,omitempty"`
	Incomplete bool   `json:"incomplete"`
}

// WriteText renders one diagnostic per line followed by a summary.
func WriteText(w io.Writer, ds []Diagnostic, meta Meta) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, d := range ds {
		pins := ""
		if len(d.Pins) > 0 {
			pins = " [pins " + strings.Join(d.Pins, ",") + "]"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s%s\n",
			d.Severity, d.Verdict, d.ScopeID, d.RuleText, d.Evidence, pins)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := Summarize(ds)
	_, err := fmt.Fprintf(w, "%d diagnostics: %d errors, %d warnings, %d info\n",
		s.Total, s.Errors, s.Warnings, s.Infos)
	if err != nil {
		return err
	}
	if meta.Incomplete {
		_, err = fmt.Fprintln(w, "evaluation incomplete: cancelled before every rule was checked")
	}
	return err
}

type jsonReport struct {
	Meta
	Summary     Summary      `json:"summary"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// WriteJSON renders diagnostics as an indented JSON document.
func WriteJSON(w io.Writer, ds []Diagnostic, meta Meta) error {
	if ds == nil {
		ds = []Diagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(jsonReport{Meta: meta, Summary: Summarize(ds), Diagnostics: ds})
}
