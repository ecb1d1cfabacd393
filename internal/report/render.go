package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteText writes a human-readable rendering of s.
func WriteText(w io.Writer, s *Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Scenario\t%s (%s)\n", s.ScenarioID, s.Mode)
	fmt.Fprintf(tw, "Status\t%s\n", s.Status)
	if s.Decision != "" {
		fmt.Fprintf(tw, "Decision\t%s\n", s.Decision)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "STAGE\tSTATUS\tERROR")
	for _, line := range s.Stages {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", line.Stage, line.Status, firstLine(line.Error))
	}

	if len(s.Metrics) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "METRIC\tVALUE")
		for _, p := range Projections {
			if v, ok := s.Metrics[p.Name]; ok {
				fmt.Fprintf(tw, "%s\t%v\n", p.Name, v)
			}
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, issue := range s.ContractIssues {
		if _, err := fmt.Fprintf(w, "contract violation: %s\n", issue); err != nil {
			return err
		}
	}
	for _, warn := range s.ContractWarnings {
		if _, err := fmt.Fprintf(w, "contract warning: %s\n", warn); err != nil {
			return err
		}
	}

	if s.Diagram != "" {
		if _, err := fmt.Fprintf(w, "\n%s", s.Diagram); err != nil {
			return err
		}
	}
	return nil
}

// BatchRow is one scenario of a side-by-side batch comparison. Summary is nil
// when the request was rejected before a run started.
type BatchRow struct {
	ScenarioID string   `json:"scenario_id"`
	Summary    *Summary `json:"summary,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// WriteBatchText writes one line per row with every stage status.
func WriteBatchText(w io.Writer, rows []BatchRow) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tSTATUS\tDECISION\tUNDERWRITING\tRESERVE\tBEHAVIOR\tHEDGING\tERROR")
	for _, row := range rows {
		if row.Summary == nil {
			fmt.Fprintf(tw, "%s\trejected\t-\t-\t-\t-\t-\t%s\n", row.ScenarioID, firstLine(row.Error))
			continue
		}
		s := row.Summary
		decision := s.Decision
		if decision == "" {
			decision = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s", s.ScenarioID, s.Status, decision)
		for _, line := range s.Stages {
			fmt.Fprintf(tw, "\t%s", line.Status)
		}
		fmt.Fprintf(tw, "\t%s\n", firstLine(row.Error))
	}
	return tw.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
