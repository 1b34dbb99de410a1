package stages

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jacobine-go/pipeline/internal/consumer"
	"github.com/jacobine-go/pipeline/internal/dbgateway"
	"github.com/jacobine-go/pipeline/internal/model"
	"github.com/jacobine-go/pipeline/internal/mqclient"
	"github.com/jacobine-go/pipeline/internal/processrunner"
	"github.com/jacobine-go/pipeline/internal/repository"
)

// AnalysisGithubLinguist runs github-linguist --json against an
// extracted checkout and stores the resulting language-byte-share map
// as-is; the set of languages a checkout contains is unbounded, so it
// is not worth a fixed-column table the way phploc/pdepend's summaries
// are.
type AnalysisGithubLinguist struct {
	exchange string
	binary   string
	timeout  time.Duration
	runner   processrunner.Interface
	versions *repository.VersionRepository
	metrics  *repository.MetricsRepository
}

func NewAnalysisGithubLinguist(gw *dbgateway.Gateway, runner processrunner.Interface, exchange, binary string, timeout time.Duration) *AnalysisGithubLinguist {
	return &AnalysisGithubLinguist{
		exchange: exchange,
		binary:   binary,
		timeout:  timeout,
		runner:   runner,
		versions: repository.NewVersionRepository(gw, ""),
		metrics:  repository.NewMetricsRepository(gw),
	}
}

func (h *AnalysisGithubLinguist) Name() string { return "Analysis\\GithubLinguist" }

func (h *AnalysisGithubLinguist) Topology() mqclient.Topology {
	return mqclient.Topology{
		Exchange:   h.exchange,
		Queue:      model.RoutingAnalysisLinguist,
		RoutingKey: model.RoutingAnalysisLinguist,
		DeadLetter: true,
	}
}

func (h *AnalysisGithubLinguist) Process(ctx context.Context, deps *consumer.Deps, envelope model.Envelope) consumer.Disposition {
	env, ok := envelope.(model.AnalysisEnvelope)
	if !ok {
		deps.Logger.Error("analysis.github.linguist: unexpected envelope type", "stage", h.Name())
		return consumer.RejectNoRequeue
	}

	rec, err := h.versions.FindByID(ctx, env.VersionID)
	if err != nil {
		var notFound *dbgateway.NotFoundError
		if errors.As(err, &notFound) {
			deps.Logger.Error("analysis.github.linguist: version record vanished", "versionId", env.VersionID)
		} else {
			deps.Logger.Error("analysis.github.linguist: lookup failed", "versionId", env.VersionID, "error", err)
		}
		return consumer.RejectNoRequeue
	}
	if rec.Flag("analyzed_linguist") {
		return consumer.Ack
	}

	start := time.Now()
	result, err := h.runner.Run(ctx, h.binary, []string{"--json", env.CheckoutDir}, "", h.timeout)
	if deps.Metrics != nil {
		deps.Metrics.ProcessDuration.WithLabelValues("github-linguist").Observe(time.Since(start).Seconds())
	}
	if err != nil || result == nil || !result.Successful() {
		deps.Logger.Error("analysis.github.linguist: tool failed", "versionId", env.VersionID,
			"commandLine", safeCommandLine(result), "stderr", safeStderr(result), "error", err)
		return consumer.RejectNoRequeue
	}

	var languages map[string]float64
	if err := json.Unmarshal([]byte(result.Stdout()), &languages); err != nil {
		deps.Logger.Error("analysis.github.linguist: could not parse json output", "versionId", env.VersionID, "error", err)
		return consumer.RejectNoRequeue
	}

	if _, err := h.metrics.InsertLinguist(ctx, repository.LinguistMetrics{VersionID: env.VersionID, LanguagesJSON: result.Stdout()}); err != nil {
		deps.Logger.Error("analysis.github.linguist: failed to record metrics", "versionId", env.VersionID, "error", err)
		return consumer.RejectNoRequeue
	}

	if err := h.versions.SetFlag(ctx, env.VersionID, "analyzed_linguist"); err != nil {
		deps.Logger.Error("analysis.github.linguist: failed to set analyzed flag", "versionId", env.VersionID, "error", err)
		return consumer.RejectNoRequeue
	}

	return consumer.Ack
}
