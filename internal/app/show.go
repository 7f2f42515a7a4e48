package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"price-forecast/internal/journal"
)

// Show prints the most recent journal entries.
func (a *App) Show(ctx context.Context, w io.Writer, opts ShowOptions) error {
	j, closeJournal, err := a.openJournal(ctx)
	if err != nil {
		return err
	}
	defer closeJournal()

	var entries []journal.Entry
	if opts.Ticker != "" {
		entries = j.Entries(opts.Ticker)
		// newest first, like Recent
		for l, r := 0, len(entries)-1; l < r; l, r = l+1, r-1 {
			entries[l], entries[r] = entries[r], entries[l]
		}
		if opts.Limit > 0 && len(entries) > opts.Limit {
			entries = entries[:opts.Limit]
		}
	} else {
		entries = j.Recent(opts.Limit)
	}
	return writeEntries(w, entries)
}

func writeEntries(w io.Writer, entries []journal.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no journal entries found")
		return err
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tTicker\tPredicted\tActual\tAccuracy%\tStatus\tOutcome\tLesson")
	for _, e := range entries {
		actual, accuracy := "-", "-"
		if e.Actual != nil {
			actual = e.Actual.StringFixed(2)
		}
		if e.Accuracy != nil {
			accuracy = fmt.Sprintf("%.2f", *e.Accuracy)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Date.Format(time.DateOnly),
			e.Ticker,
			e.Predicted.StringFixed(2),
			actual,
			accuracy,
			e.Status,
			e.Outcome,
			sanitizeInline(e.Lesson),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
