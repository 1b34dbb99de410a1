package stages

import (
	"context"
	"errors"
	"time"

	"github.com/jacobine-go/pipeline/internal/consumer"
	"github.com/jacobine-go/pipeline/internal/dbgateway"
	"github.com/jacobine-go/pipeline/internal/model"
	"github.com/jacobine-go/pipeline/internal/mqclient"
	"github.com/jacobine-go/pipeline/internal/processrunner"
	"github.com/jacobine-go/pipeline/internal/repository"
)

// AnalysisCVSAnaly runs cvsanaly against a Git checkout. cvsanaly mines
// full commit history, so it only ever runs against a gitweb checkout,
// never a tarball extraction — tarballs carry no .git directory for it
// to read.
type AnalysisCVSAnaly struct {
	exchange   string
	binary     string
	configFile string
	timeout    time.Duration
	runner     processrunner.Interface
	gitweb     *repository.GitwebRepository
	metrics    *repository.MetricsRepository
}

func NewAnalysisCVSAnaly(gw *dbgateway.Gateway, runner processrunner.Interface, exchange, binary, configFile string, timeout time.Duration) *AnalysisCVSAnaly {
	return &AnalysisCVSAnaly{
		exchange:   exchange,
		binary:     binary,
		configFile: configFile,
		timeout:    timeout,
		runner:     runner,
		gitweb:     repository.NewGitwebRepository(gw, ""),
		metrics:    repository.NewMetricsRepository(gw),
	}
}

func (h *AnalysisCVSAnaly) Name() string { return "Analysis\\CVSAnaly" }

func (h *AnalysisCVSAnaly) Topology() mqclient.Topology {
	return mqclient.Topology{
		Exchange:   h.exchange,
		Queue:      model.RoutingAnalysisCVSAnaly,
		RoutingKey: model.RoutingAnalysisCVSAnaly,
		DeadLetter: true,
	}
}

func (h *AnalysisCVSAnaly) Process(ctx context.Context, deps *consumer.Deps, envelope model.Envelope) consumer.Disposition {
	env, ok := envelope.(model.AnalysisEnvelope)
	if !ok {
		deps.Logger.Error("analysis.cvsanaly: unexpected envelope type", "stage", h.Name())
		return consumer.RejectNoRequeue
	}

	rec, err := h.gitweb.FindByID(ctx, env.VersionID)
	if err != nil {
		var notFound *dbgateway.NotFoundError
		if errors.As(err, &notFound) {
			deps.Logger.Error("analysis.cvsanaly: gitweb record vanished", "gitwebId", env.VersionID)
		} else {
			deps.Logger.Error("analysis.cvsanaly: lookup failed", "gitwebId", env.VersionID, "error", err)
		}
		return consumer.RejectNoRequeue
	}
	if rec.Flag("analyzed_cvsanaly") {
		return consumer.Ack
	}

	args := []string{env.CheckoutDir}
	if h.configFile != "" {
		args = append(args, "--config-file", h.configFile)
	}

	start := time.Now()
	result, err := h.runner.Run(ctx, h.binary, args, "", h.timeout)
	duration := time.Since(start)
	if deps.Metrics != nil {
		deps.Metrics.ProcessDuration.WithLabelValues("cvsanaly").Observe(duration.Seconds())
	}
	if err != nil || result == nil || !result.Successful() {
		deps.Logger.Error("analysis.cvsanaly: tool failed", "gitwebId", env.VersionID,
			"commandLine", safeCommandLine(result), "stderr", safeStderr(result), "error", err)
		return consumer.RejectNoRequeue
	}

	if _, err := h.metrics.InsertCVSAnalyRun(ctx, repository.CVSAnalyRun{RecordID: env.VersionID, Duration: duration}); err != nil {
		deps.Logger.Error("analysis.cvsanaly: failed to record run", "gitwebId", env.VersionID, "error", err)
		return consumer.RejectNoRequeue
	}

	if err := h.gitweb.SetAnalyzed(ctx, env.VersionID); err != nil {
		deps.Logger.Error("analysis.cvsanaly: failed to set analyzed flag", "gitwebId", env.VersionID, "error", err)
		return consumer.RejectNoRequeue
	}

	return consumer.Ack
}
