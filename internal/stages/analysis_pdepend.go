package stages

import (
	"context"
	"encoding/xml"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/jacobine-go/pipeline/internal/consumer"
	"github.com/jacobine-go/pipeline/internal/dbgateway"
	"github.com/jacobine-go/pipeline/internal/model"
	"github.com/jacobine-go/pipeline/internal/mqclient"
	"github.com/jacobine-go/pipeline/internal/processrunner"
	"github.com/jacobine-go/pipeline/internal/repository"
)

// pdependSummary mirrors the subset of pdepend's --summary-xml document
// this pipeline reads; the tool emits many more metrics than it tracks.
type pdependSummary struct {
	XMLName xml.Name `xml:"metrics"`
	Packages          int `xml:"packages,attr"`
	Classes           int `xml:"classes,attr"`
	Methods           int `xml:"methods,attr"`
	CyclomaticComplex int `xml:"ccn2,attr"`
}

// AnalysisPDepend runs pdepend against an extracted checkout and parses
// its --summary-xml output into a pdepend_metrics row.
type AnalysisPDepend struct {
	exchange string
	binary   string
	timeout  time.Duration
	runner   processrunner.Interface
	versions *repository.VersionRepository
	metrics  *repository.MetricsRepository
}

func NewAnalysisPDepend(gw *dbgateway.Gateway, runner processrunner.Interface, exchange, binary string, timeout time.Duration) *AnalysisPDepend {
	return &AnalysisPDepend{
		exchange: exchange,
		binary:   binary,
		timeout:  timeout,
		runner:   runner,
		versions: repository.NewVersionRepository(gw, ""),
		metrics:  repository.NewMetricsRepository(gw),
	}
}

func (h *AnalysisPDepend) Name() string { return "Analysis\\PDepend" }

func (h *AnalysisPDepend) Topology() mqclient.Topology {
	return mqclient.Topology{
		Exchange:   h.exchange,
		Queue:      model.RoutingAnalysisPDepend,
		RoutingKey: model.RoutingAnalysisPDepend,
		DeadLetter: true,
	}
}

func (h *AnalysisPDepend) Process(ctx context.Context, deps *consumer.Deps, envelope model.Envelope) consumer.Disposition {
	env, ok := envelope.(model.AnalysisEnvelope)
	if !ok {
		deps.Logger.Error("analysis.pdepend: unexpected envelope type", "stage", h.Name())
		return consumer.RejectNoRequeue
	}

	rec, err := h.versions.FindByID(ctx, env.VersionID)
	if err != nil {
		var notFound *dbgateway.NotFoundError
		if errors.As(err, &notFound) {
			deps.Logger.Error("analysis.pdepend: version record vanished", "versionId", env.VersionID)
		} else {
			deps.Logger.Error("analysis.pdepend: lookup failed", "versionId", env.VersionID, "error", err)
		}
		return consumer.RejectNoRequeue
	}
	if rec.Flag("analyzed_pdepend") {
		return consumer.Ack
	}

	xmlPath := filepath.Join(env.CheckoutDir, ".pdepend-summary.xml")
	args := []string{"--summary-xml=" + xmlPath, env.CheckoutDir}

	start := time.Now()
	result, err := h.runner.Run(ctx, h.binary, args, "", h.timeout)
	if deps.Metrics != nil {
		deps.Metrics.ProcessDuration.WithLabelValues("pdepend").Observe(time.Since(start).Seconds())
	}
	if err != nil || result == nil || !result.Successful() {
		deps.Logger.Error("analysis.pdepend: tool failed", "versionId", env.VersionID,
			"commandLine", safeCommandLine(result), "stderr", safeStderr(result), "error", err)
		return consumer.RejectNoRequeue
	}

	data, err := os.ReadFile(xmlPath)
	if err != nil {
		deps.Logger.Error("analysis.pdepend: could not read xml output", "versionId", env.VersionID, "path", xmlPath, "error", err)
		return consumer.RejectNoRequeue
	}

	var summary pdependSummary
	if err := xml.Unmarshal(data, &summary); err != nil {
		deps.Logger.Error("analysis.pdepend: could not parse xml output", "versionId", env.VersionID, "error", err)
		return consumer.RejectNoRequeue
	}

	row := repository.PDependMetrics{
		VersionID:         env.VersionID,
		Packages:          summary.Packages,
		Classes:           summary.Classes,
		Methods:           summary.Methods,
		CyclomaticComplex: summary.CyclomaticComplex,
	}
	if _, err := h.metrics.InsertPDepend(ctx, row); err != nil {
		deps.Logger.Error("analysis.pdepend: failed to record metrics", "versionId", env.VersionID, "error", err)
		return consumer.RejectNoRequeue
	}

	if err := h.versions.SetFlag(ctx, env.VersionID, "analyzed_pdepend"); err != nil {
		deps.Logger.Error("analysis.pdepend: failed to set analyzed flag", "versionId", env.VersionID, "error", err)
		return consumer.RejectNoRequeue
	}

	return consumer.Ack
}
