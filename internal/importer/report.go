package importer

import (
	"fmt"
	"io"
	"strings"

	"github.com/alvmarrod/douban-imdb/internal/movie"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Entry is the result for one record
type Entry struct {
	Record  movie.Record
	Outcome Outcome
	Rating  int   // converted rating, mark mode only
	Err     error // set when Outcome is Failed
}

func (e Entry) fail(err error) Entry {
	e.Outcome = Failed
	e.Err = err
	return e
}

// Report collects the outcomes of a run
type Report struct {
	Unmark  bool
	Entries []Entry
}

// Count returns how many records ended in o
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, e := range r.Entries {
		if e.Outcome == o {
			n++
		}
	}
	return n
}

// Labels lists the records that ended in o
func (r *Report) Labels(o Outcome) []string {
	var out []string
	for _, e := range r.Entries {
		if e.Outcome != o {
			continue
		}
		if o == NotFound {
			out = append(out, e.Record.Title)
		} else {
			out = append(out, e.Record.Label())
		}
	}
	return out
}

// Render prints the end-of-run summary
func (r *Report) Render(w io.Writer) {
	if r.Unmark {
		fmt.Fprintf(w, "Removed ratings from %d movies\n", r.Count(Success))
	} else {
		fmt.Fprintf(w, "Rated %d movies\n", r.Count(Success))
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Outcome", "Count", "Movies"})

	rows := []Outcome{NotFound, AlreadyMarked}
	if r.Unmark {
		rows = []Outcome{NotFound, NeverMarked}
	}
	for _, o := range rows {
		t.AppendRow(table.Row{o, r.Count(o), strings.Join(r.Labels(o), "\n")})
	}

	if failed := r.Count(Failed); failed > 0 {
		var lines []string
		for _, e := range r.Entries {
			if e.Outcome == Failed {
				lines = append(lines, fmt.Sprintf("%s - %v", e.Record.Label(), e.Err))
			}
		}
		t.AppendRow(table.Row{Failed, failed, strings.Join(lines, "\n")})
	}

	t.SetStyle(table.StyleRounded)
	t.Render()
}
