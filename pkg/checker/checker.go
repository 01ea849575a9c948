package checker

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/pingcap/isocheck/pkg/dsg"
	"github.com/pingcap/isocheck/pkg/history"
	"github.com/pingcap/isocheck/pkg/isolation"
)

// Options configures a single check run.
type Options struct {
	Level isolation.Level
	// MaxAnomalies stops enumeration after this many reportable anomalies;
	// zero means no cap.
	MaxAnomalies int
	// GraphOutput, when non-empty, receives a DOT (or, with an .svg suffix,
	// rendered SVG) description of the graph.
	GraphOutput string
	// FullGraph draws every committed transaction instead of just the
	// strongly connected components.
	FullGraph bool
	// SeparateCycles additionally writes one <n>_<GraphOutput> file per
	// reported cycle.
	SeparateCycles bool
}

// Report is the immutable outcome of a check. Finding anomalies is the
// success path; integrity problems are recorded in IntegrityErrors and do not
// fail the check.
type Report struct {
	Level     isolation.Level
	Anomalies []dsg.Anomaly
	// Incomplete marks reports where integrity errors forced objects out of
	// the analysis.
	Incomplete      bool
	IntegrityErrors error
	Graph           *dsg.DSG
}

// Summary renders the per-anomaly report lines.
func (r *Report) Summary(h *history.History) string {
	if len(r.Anomalies) == 0 {
		status := "no anomalies found"
		if r.Incomplete {
			status += " (analysis incomplete)"
		}
		return status
	}
	var lines []string
	for i := range r.Anomalies {
		lines = append(lines, r.Anomalies[i].Summary(h))
	}
	if r.Incomplete {
		lines = append(lines, "warning: analysis incomplete, some objects were excluded")
	}
	return strings.Join(lines, "\n")
}

// Check analyzes a history against an isolation level. The result is a
// deterministic function of (history, level, cap): version-order selection,
// cycle rotation and enumeration order are all pinned.
func Check(h *history.History, opts Options) (*Report, error) {
	report := &Report{Level: opts.Level}

	committed := h.Committed()
	if len(committed) <= 1 { // only the initial transaction
		zap.S().Info("no committed transactions, nothing to check")
		return report, nil
	}

	resolved := dsg.Resolve(h)
	orders, conflicts := dsg.InferVersionOrders(h, resolved)

	var integrity *multierror.Error
	for _, err := range resolved.IntegrityErrors() {
		integrity = multierror.Append(integrity, err)
	}
	for _, err := range conflicts {
		integrity = multierror.Append(integrity, err)
	}
	if integrity.ErrorOrNil() != nil {
		report.Incomplete = true
		report.IntegrityErrors = integrity.ErrorOrNil()
		zap.S().Warnf("history has %d integrity errors, analysis will be incomplete", integrity.Len())
	}

	capped := func() bool {
		return opts.MaxAnomalies > 0 && len(report.Anomalies) >= opts.MaxAnomalies
	}

	for _, a := range dsg.FindNonCyclic(h, resolved) {
		if !opts.Level.Forbids(a.Kind) {
			continue
		}
		report.Anomalies = append(report.Anomalies, a)
		if capped() {
			break
		}
	}

	graph := dsg.Build(h, resolved, orders)
	report.Graph = graph

	if !capped() {
		graph.EnumerateCycles(func(c *dsg.Cycle) bool {
			kind, ok := dsg.Classify(c)
			if !ok || !opts.Level.Forbids(kind) {
				return true
			}
			report.Anomalies = append(report.Anomalies, dsg.Anomaly{Kind: kind, Cycle: c})
			return !capped()
		})
	}

	zap.S().Infof("checked %d committed transactions against %s: %d anomalies",
		len(committed)-1, opts.Level, len(report.Anomalies))

	if opts.GraphOutput != "" {
		if err := writeGraphs(h, report, opts); err != nil {
			return report, err
		}
	}
	return report, nil
}

func writeGraphs(h *history.History, r *Report, opts Options) error {
	// renderers get a forked snapshot so the report stays shareable
	graph := r.Graph.Fork()

	var highlight *dsg.Cycle
	for i := range r.Anomalies {
		if r.Anomalies[i].Cyclic() {
			highlight = r.Anomalies[i].Cycle
			break
		}
	}

	if err := writeGraphFile(opts.GraphOutput, graph.DOT(dsg.RenderOptions{
		Full:      opts.FullGraph,
		Highlight: highlight,
	})); err != nil {
		return err
	}

	if opts.SeparateCycles {
		dir, base := filepath.Split(opts.GraphOutput)
		n := 0
		for i := range r.Anomalies {
			if !r.Anomalies[i].Cyclic() {
				continue
			}
			name := filepath.Join(dir, fmt.Sprintf("%d_%s", n, base))
			if err := writeGraphFile(name, r.Anomalies[i].Cycle.DOT(h)); err != nil {
				return err
			}
			n++
		}
	}
	return nil
}

func writeGraphFile(name, dot string) error {
	if strings.HasSuffix(name, ".svg") {
		return dsg.RenderSVG(dot, name)
	}
	return ioutil.WriteFile(name, []byte(dot), 0644)
}
