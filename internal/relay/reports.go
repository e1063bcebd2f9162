package relay

import (
	"context"

	"go.uber.org/zap"

	"voucherRelay/internal/model"
)

// ReportStatus distinguishes a loading view, an empty result and a failed fetch.
type ReportStatus int

const (
	ReportsIdle ReportStatus = iota
	ReportsLoading
	ReportsLoaded
	ReportsEmpty
	ReportsFailed
)

func (s ReportStatus) String() string {
	switch s {
	case ReportsIdle:
		return "idle"
	case ReportsLoading:
		return "loading"
	case ReportsLoaded:
		return "loaded"
	case ReportsEmpty:
		return "empty"
	case ReportsFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ReportView is the sorted, deduplicated report list shown to users.
type ReportView struct {
	Status  ReportStatus
	Reports []model.Report
	Err     error
}

// RefreshReports queries the indexer and replaces the current view. The most recent
// query wins: a query that finishes after a newer one started leaves the view alone and
// returns the newer view. A failed query yields a ReportsFailed view rather than an error.
func (c *Coordinator) RefreshReports(ctx context.Context) ReportView {
	c.mu.Lock()
	c.viewGen++
	gen := c.viewGen
	c.view = ReportView{Status: ReportsLoading, Reports: c.view.Reports}
	c.mu.Unlock()

	reports, err := c.deps.Reports.FetchReports(ctx)
	var view ReportView
	switch {
	case err != nil:
		c.logger.Warn("fetch reports failed", zap.Error(err))
		view = ReportView{Status: ReportsFailed, Err: err}
	case len(reports) == 0:
		view = ReportView{Status: ReportsEmpty}
	default:
		view = ReportView{Status: ReportsLoaded, Reports: dedupeReports(reports)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.viewGen {
		c.logger.Debug("stale reports dropped", zap.Uint64("generation", gen), zap.Uint64("current", c.viewGen))
		return c.view
	}
	c.view = view
	return view
}

// Reports returns the latest report view without querying.
func (c *Coordinator) Reports() ReportView {
	c.mu.Lock()
	defer c.mu.Unlock()
	view := c.view
	view.Reports = append([]model.Report(nil), c.view.Reports...)
	return view
}

func dedupeReports(reports []model.Report) []model.Report {
	byKey := make(map[model.ReportKey]int, len(reports))
	out := make([]model.Report, 0, len(reports))
	for _, report := range reports {
		if i, ok := byKey[report.Key()]; ok {
			out[i] = report
			continue
		}
		byKey[report.Key()] = len(out)
		out = append(out, report)
	}
	model.SortReports(out)
	return out
}
