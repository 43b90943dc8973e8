package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/hyperengineering/studysync/internal/job"
	"github.com/hyperengineering/studysync/internal/types"
)

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// printOutcome writes the run summary. Dry runs also list the missing
// studies; failed retrievals are listed with their diagnostics.
func printOutcome(w io.Writer, out *job.Outcome, asJSON bool) error {
	if out == nil {
		return nil
	}
	if asJSON {
		return printJSON(w, out)
	}

	printReport(w, out.Report)

	if out.Report.DryRun && len(out.Missing) > 0 {
		fmt.Fprintln(w)
		tw := newTabWriter(w)
		fmt.Fprintln(tw, "STUDY DATE\tSUBJECT ID\tSUBJECT NAME\tINSTANCES")
		for _, e := range out.Missing {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n",
				e.StudyDate, dash(e.SubjectID), dash(e.SubjectName), e.OccurrenceCount)
		}
		tw.Flush()
	}

	var failed []types.RetrievalTask
	for _, t := range out.Tasks {
		if t.Status == types.TaskFailed {
			failed = append(failed, t)
		}
	}
	if len(failed) > 0 {
		fmt.Fprintln(w)
		printTasks(w, failed)
	}
	return nil
}

func printReport(w io.Writer, r types.RunReport) {
	status := string(r.Status)
	if r.DryRun {
		status += " (dry run)"
	}
	fmt.Fprintf(w, "Run:              %s\n", r.ID)
	fmt.Fprintf(w, "Kind:             %s\n", r.Kind)
	fmt.Fprintf(w, "Status:           %s\n", status)
	fmt.Fprintf(w, "Window:           %s-%s\n", r.WindowStart, r.WindowEnd)
	if r.Kind == types.RunReconcile {
		fmt.Fprintf(w, "Remote records:   %d\n", r.RemoteRecords)
		fmt.Fprintf(w, "Catalog entries:  %d\n", r.CatalogEntries)
		local := fmt.Sprintf("%d", r.LocalEntries)
		if r.LocalDegraded {
			local += " (store unavailable, treated as empty)"
		}
		fmt.Fprintf(w, "Local entries:    %s\n", local)
		fmt.Fprintf(w, "Count mismatches: %d\n", r.CountMismatches)
	}
	fmt.Fprintf(w, "Missing:          %d\n", r.MissingEntries)
	if !r.DryRun {
		fmt.Fprintf(w, "Retrievals:       %d succeeded, %d failed\n", r.Succeeded, r.Failed)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error:            %s\n", r.Error)
	}
}

func printTasks(w io.Writer, tasks []types.RetrievalTask) {
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "STUDY DATE\tSUBJECT ID\tSTATUS\tATTEMPTS\tDIAGNOSTIC")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			t.Identity.StudyDate,
			dash(t.Identity.SubjectID),
			t.Status,
			t.Attempts,
			dash(firstLine(t.Diagnostic)),
		)
	}
	tw.Flush()
}

func printMismatches(w io.Writer, mm []types.CountMismatch) {
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "STUDY DATE\tSUBJECT ID\tSUBJECT NAME\tREMOTE\tLOCAL")
	for _, m := range mm {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n",
			m.StudyDate, dash(m.SubjectID), dash(m.SubjectName), m.RemoteCount, m.LocalCount)
	}
	tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
