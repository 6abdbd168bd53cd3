package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/revsync/internal/ir"
)

// toCanonicalMap converts a result to the shape written to golden files.
// Empty fields are omitted so that adding a field to one op does not churn
// every golden file.
func toCanonicalMap(result *Result) map[string]any {
	trace := make([]any, len(result.Trace))
	for i, ev := range result.Trace {
		m := map[string]any{
			"step": ev.Step,
			"op":   ev.Op,
		}
		for k, v := range map[string]string{
			"store": ev.Store, "doc": ev.Doc, "from": ev.From, "to": ev.To, "error": ev.Error,
		} {
			if v != "" {
				m[k] = v
			}
		}
		if ev.Generation != 0 {
			m["generation"] = ev.Generation
		}
		if ev.Deleted {
			m["deleted"] = true
		}
		if rt := ev.Replication; rt != nil {
			m["replication"] = map[string]any{
				"batches":           rt.Batches,
				"changes_read":      rt.ChangesRead,
				"docs_applied":      rt.DocsApplied,
				"docs_up_to_date":   rt.DocsUpToDate,
				"revisions_applied": rt.RevisionsApplied,
				"skipped":           rt.Skipped,
				"checkpoint":        rt.Checkpoint,
			}
		}
		trace[i] = m
	}

	final := make([]any, len(result.Final))
	for i, st := range result.Final {
		docs := make([]any, len(st.Documents))
		for j, d := range st.Documents {
			docs[j] = map[string]any{
				"doc":        d.Doc,
				"leaves":     d.Leaves,
				"generation": d.Generation,
				"deleted":    d.Deleted,
				"conflicted": d.Conflicted,
			}
		}
		final[i] = map[string]any{"store": st.Store, "documents": docs}
	}

	return map[string]any{
		"scenario": result.Scenario,
		"trace":    trace,
		"final":    final,
	}
}

// Snapshot returns the canonical JSON form of result used for golden files.
func Snapshot(result *Result) ([]byte, error) {
	return ir.MarshalCanonical(toCanonicalMap(result))
}

// GoldenPath returns the golden file of a scenario file:
// <dir>/golden/<basename>.golden.
func GoldenPath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := base[:len(base)-len(filepath.Ext(base))]
	return filepath.Join(dir, "golden", name+".golden")
}

// WriteGolden writes result's snapshot to path, creating its directory.
func WriteGolden(path string, result *Result) error {
	data, err := Snapshot(result)
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// MatchesGolden reports whether result's snapshot equals the golden file.
func MatchesGolden(path string, result *Result) (bool, error) {
	want, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}
	got, err := Snapshot(result)
	if err != nil {
		return false, fmt.Errorf("failed to marshal trace: %w", err)
	}
	return bytes.Equal(bytes.TrimSpace(want), got), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
