package repository

import (
	"context"
	"time"

	"github.com/jacobine-go/pipeline/internal/dbgateway"
)

// MetricsRepository inserts the per-analyzer rows Extract.Targz's
// fan-out eventually produces. Each analyzer gets its own fixed-column
// table except github-linguist, whose language set is unbounded and is
// therefore stored as a single JSON blob column.
type MetricsRepository struct {
	gw *dbgateway.Gateway
}

func NewMetricsRepository(gw *dbgateway.Gateway) *MetricsRepository {
	return &MetricsRepository{gw: gw}
}

// PHPLocMetrics is one row of phploc's --log-csv summary output.
type PHPLocMetrics struct {
	VersionID   string
	Directories int
	Files       int
	LLOC        int
	CLOC        int
	NCLOC       int
}

func (m *MetricsRepository) InsertPHPLoc(ctx context.Context, row PHPLocMetrics) (string, error) {
	return m.gw.Insert(ctx, "phploc_metrics", map[string]any{
		"version_id":  row.VersionID,
		"directories": row.Directories,
		"files":       row.Files,
		"lloc":        row.LLOC,
		"cloc":        row.CLOC,
		"ncloc":       row.NCLOC,
	})
}

// PDependMetrics is the aggregate package/class/method/complexity summary
// parsed out of pdepend's --summary-xml output.
type PDependMetrics struct {
	VersionID         string
	Packages          int
	Classes           int
	Methods           int
	CyclomaticComplex int
}

func (m *MetricsRepository) InsertPDepend(ctx context.Context, row PDependMetrics) (string, error) {
	return m.gw.Insert(ctx, "pdepend_metrics", map[string]any{
		"version_id":          row.VersionID,
		"packages":            row.Packages,
		"classes":             row.Classes,
		"methods":             row.Methods,
		"cyclomatic_complex":  row.CyclomaticComplex,
	})
}

// LinguistMetrics stores github-linguist's language-byte-share JSON blob
// as-is, since the set of languages a checkout contains is unbounded.
type LinguistMetrics struct {
	VersionID      string
	LanguagesJSON  string
}

func (m *MetricsRepository) InsertLinguist(ctx context.Context, row LinguistMetrics) (string, error) {
	return m.gw.Insert(ctx, "linguist_metrics", map[string]any{
		"version_id": row.VersionID,
		"languages":  row.LanguagesJSON,
	})
}

// CVSAnalyRun records that cvsanaly completed against a checkout; the
// tool's own findings live in the SQLite database it writes, which this
// pipeline treats as opaque per its design.
type CVSAnalyRun struct {
	RecordID string
	Duration time.Duration
}

func (m *MetricsRepository) InsertCVSAnalyRun(ctx context.Context, run CVSAnalyRun) (string, error) {
	return m.gw.Insert(ctx, "cvsanaly_metrics", map[string]any{
		"record_id":   run.RecordID,
		"duration_ms": run.Duration.Milliseconds(),
	})
}
