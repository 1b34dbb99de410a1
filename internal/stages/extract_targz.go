package stages

import (
	"context"
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

// ExtractTargz unpacks a downloaded release archive and fans out one
// analysis message per analyzer the owning project has configured.
type ExtractTargz struct {
	exchange  string
	tarBinary string
	timeout   time.Duration
	extractBaseDir string
	analyzers []string
	runner    processrunner.Interface
	versions  *repository.VersionRepository
}

func NewExtractTargz(gw *dbgateway.Gateway, runner processrunner.Interface, exchange, tarBinary, extractBaseDir string, timeout time.Duration, analyzers []string) *ExtractTargz {
	return &ExtractTargz{
		exchange:       exchange,
		tarBinary:      tarBinary,
		timeout:        timeout,
		extractBaseDir: extractBaseDir,
		analyzers:      analyzers,
		runner:         runner,
		versions:       repository.NewVersionRepository(gw, ""),
	}
}

func (h *ExtractTargz) Name() string { return "Extract\\Targz" }

func (h *ExtractTargz) Topology() mqclient.Topology {
	return mqclient.Topology{
		Exchange:   h.exchange,
		Queue:      model.RoutingExtractTargz,
		RoutingKey: model.RoutingExtractTargz,
		DeadLetter: true,
	}
}

func (h *ExtractTargz) Process(ctx context.Context, deps *consumer.Deps, envelope model.Envelope) consumer.Disposition {
	env, ok := envelope.(model.ExtractTargzEnvelope)
	if !ok {
		deps.Logger.Error("extract.targz: unexpected envelope type", "stage", h.Name())
		return consumer.RejectNoRequeue
	}

	rec, err := h.versions.FindByID(ctx, env.VersionID)
	if err != nil {
		var notFound *dbgateway.NotFoundError
		if errors.As(err, &notFound) {
			deps.Logger.Error("extract.targz: version record vanished", "versionId", env.VersionID)
		} else {
			deps.Logger.Error("extract.targz: lookup failed", "versionId", env.VersionID, "error", err)
		}
		return consumer.RejectNoRequeue
	}

	if rec.Flag("extracted") {
		return consumer.Ack
	}

	destDir := filepath.Join(h.extractBaseDir, env.VersionID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		deps.Logger.Error("extract.targz: mkdir failed", "versionId", env.VersionID, "dir", destDir, "error", err)
		return consumer.RejectNoRequeue
	}

	start := time.Now()
	result, err := h.runner.Run(ctx, h.tarBinary, []string{"-xzf", env.FilePath, "-C", destDir}, "", h.timeout)
	if deps.Metrics != nil {
		deps.Metrics.ProcessDuration.WithLabelValues("tar").Observe(time.Since(start).Seconds())
	}
	if err != nil || result == nil || !result.Successful() {
		deps.Logger.Error("extract.targz: tar failed", "versionId", env.VersionID,
			"commandLine", safeCommandLine(result), "stderr", safeStderr(result), "error", err)
		return consumer.RejectNoRequeue
	}

	if err := h.versions.SetFlagAndPath(ctx, env.VersionID, "extracted", "extract_dir", destDir); err != nil {
		deps.Logger.Error("extract.targz: failed to record extracted flag", "versionId", env.VersionID, "error", err)
		return consumer.RejectNoRequeue
	}

	for _, analyzer := range h.analyzers {
		routingKey, ok := analyzerRoutingKeys[analyzer]
		if !ok {
			deps.Logger.Warn("extract.targz: unknown analyzer configured, skipping", "analyzer", analyzer)
			continue
		}
		followOn := model.AnalysisEnvelope{Project: env.Project, VersionID: env.VersionID, CheckoutDir: destDir}
		if err := deps.MQ.Publish(ctx, h.exchange, routingKey, followOn); err != nil {
			deps.Logger.Error("extract.targz: failed to publish follow-on", "versionId", env.VersionID, "routingKey", routingKey, "error", err)
			return consumer.RejectNoRequeue
		}
	}

	return consumer.Ack
}

func safeCommandLine(r *processrunner.Result) string {
	if r == nil {
		return ""
	}
	return r.CommandLine()
}

func safeStderr(r *processrunner.Result) string {
	if r == nil {
		return ""
	}
	return r.Stderr()
}
