package ingest

import (
	"fmt"
	"io"

	"fraudwatch/warehouse"
)

// SummarizeErrors writes one line per failed task, or a single line when the
// run had no errors.
func SummarizeErrors(w io.Writer, tasks []warehouse.FileTask) error {
	var failed []warehouse.FileTask
	for _, t := range tasks {
		if status, _ := t.State(); status == warehouse.TaskFailed {
			failed = append(failed, t)
		}
	}
	if len(failed) == 0 {
		_, err := fmt.Fprintln(w, "No errors while processing files")
		return err
	}
	if _, err := fmt.Fprintln(w, "Errors while processing files:"); err != nil {
		return err
	}
	for _, t := range failed {
		_, reason := t.State()
		if _, err := fmt.Fprintf(w, "\t%s: %s\n", t.FileName, reason); err != nil {
			return err
		}
	}
	return nil
}
