// Package inspect renders a pid's fork-sequence history — every
// lifecycle event and result dispatchd has persisted for it — as
// either a terminal-friendly text report or a JSON document.
package inspect

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/dispatchd/internal/store"
)

// Step is one fork sequence a pid held: the window between a forked
// event and whatever terminal event (exited, timeout, respawn) closed
// it, plus any results the child sent back during that window.
type Step struct {
	ForkSequence uint64          `json:"fork_sequence"`
	Bucket       string          `json:"bucket"`
	Identifier   string          `json:"identifier"`
	Status       string          `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
	Detail       string          `json:"detail,omitempty"`
	Results      []ResultSummary `json:"results,omitempty"`
}

// ResultSummary is one persisted result frame inside a Step.
type ResultSummary struct {
	CreatedAt time.Time       `json:"created_at"`
	Value     json.RawMessage `json:"value"`
}

// Report is a pid's full fork-sequence history.
type Report struct {
	PID   int    `json:"pid"`
	Steps []Step `json:"steps"`
}

// BuildReport renders pid's history as a terminal-friendly text
// report.
func BuildReport(ctx context.Context, db *sql.DB, pid int) (string, error) {
	report, err := gatherReport(ctx, db, pid)
	if err != nil {
		return "", err
	}
	return renderText(report), nil
}

// BuildJSONReport renders pid's history as indented JSON.
func BuildJSONReport(ctx context.Context, db *sql.DB, pid int) (string, error) {
	report, err := gatherReport(ctx, db, pid)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("inspect: marshal report: %w", err)
	}
	return string(data), nil
}

func gatherReport(ctx context.Context, db *sql.DB, pid int) (Report, error) {
	s := store.New(db)

	events, err := s.EventsForPID(ctx, pid)
	if err != nil {
		return Report{}, fmt.Errorf("inspect: load events for pid %d: %w", pid, err)
	}
	if len(events) == 0 {
		return Report{}, fmt.Errorf("inspect: no history recorded for pid %d", pid)
	}

	results, err := s.ResultsForPID(ctx, pid)
	if err != nil {
		return Report{}, fmt.Errorf("inspect: load results for pid %d: %w", pid, err)
	}
	resultsBySeq := make(map[uint64][]store.Result)
	for _, r := range results {
		resultsBySeq[r.ForkSequence] = append(resultsBySeq[r.ForkSequence], r)
	}

	steps := make(map[uint64]*Step)
	var order []uint64
	for _, e := range events {
		step, ok := steps[e.ForkSequence]
		if !ok {
			step = &Step{
				ForkSequence: e.ForkSequence,
				Bucket:       e.Bucket,
				Identifier:   e.Identifier,
			}
			steps[e.ForkSequence] = step
			order = append(order, e.ForkSequence)
		}
		switch e.Kind {
		case store.EventForked:
			step.Status = string(store.EventForked)
			step.StartedAt = e.CreatedAt
		case store.EventExited, store.EventTimeout, store.EventRespawn:
			step.Status = string(e.Kind)
			ended := e.CreatedAt
			step.EndedAt = &ended
			step.Detail = e.Detail
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	report := Report{PID: pid}
	for _, seq := range order {
		step := *steps[seq]
		for _, r := range resultsBySeq[seq] {
			step.Results = append(step.Results, ResultSummary{CreatedAt: r.CreatedAt, Value: r.Value})
		}
		report.Steps = append(report.Steps, step)
	}
	return report, nil
}

func renderText(report Report) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "History Report: pid %d\n", report.PID)
	fmt.Fprintf(&buf, "%d fork sequence(s)\n\n", len(report.Steps))

	tw := tabwriter.NewWriter(&buf, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tBUCKET\tIDENTIFIER\tSTATUS\tSTARTED\tENDED\tDETAIL")
	for _, step := range report.Steps {
		ended := "-"
		if step.EndedAt != nil {
			ended = step.EndedAt.Format(time.RFC3339)
		}
		detail := step.Detail
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			step.ForkSequence, step.Bucket, step.Identifier, step.Status,
			step.StartedAt.Format(time.RFC3339), ended, detail)
	}
	tw.Flush()

	for _, step := range report.Steps {
		if len(step.Results) == 0 {
			continue
		}
		fmt.Fprintf(&buf, "\nresults for fork sequence %d:\n", step.ForkSequence)
		for _, r := range step.Results {
			fmt.Fprintf(&buf, "  [%s] %s\n", r.CreatedAt.Format(time.RFC3339), string(r.Value))
		}
	}

	return buf.String()
}
