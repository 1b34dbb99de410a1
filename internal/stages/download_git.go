package stages

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jacobine-go/pipeline/internal/consumer"
	"github.com/jacobine-go/pipeline/internal/dbgateway"
	"github.com/jacobine-go/pipeline/internal/model"
	"github.com/jacobine-go/pipeline/internal/mqclient"
	"github.com/jacobine-go/pipeline/internal/processrunner"
	"github.com/jacobine-go/pipeline/internal/repository"
)

// DownloadGit clones or pulls a tracked Git repository into a
// deterministic, hash-derived checkout directory and hands it to
// Analysis.CVSAnaly.
type DownloadGit struct {
	exchange        string
	gitBinary       string
	timeout         time.Duration
	checkoutBaseDir string
	runner          processrunner.Interface
	gitweb          *repository.GitwebRepository
}

func NewDownloadGit(gw *dbgateway.Gateway, runner processrunner.Interface, exchange, gitBinary, checkoutBaseDir string, timeout time.Duration) *DownloadGit {
	return &DownloadGit{
		exchange:        exchange,
		gitBinary:       gitBinary,
		timeout:         timeout,
		checkoutBaseDir: checkoutBaseDir,
		runner:          runner,
		gitweb:          repository.NewGitwebRepository(gw, ""),
	}
}

func (h *DownloadGit) Name() string { return "Download\\Git" }

func (h *DownloadGit) Topology() mqclient.Topology {
	return mqclient.Topology{
		Exchange:   h.exchange,
		Queue:      model.RoutingDownloadGit,
		RoutingKey: model.RoutingDownloadGit,
		DeadLetter: true,
	}
}

func (h *DownloadGit) Process(ctx context.Context, deps *consumer.Deps, envelope model.Envelope) consumer.Disposition {
	env, ok := envelope.(model.DownloadGitEnvelope)
	if !ok {
		deps.Logger.Error("download.git: unexpected envelope type", "stage", h.Name())
		return consumer.RejectNoRequeue
	}

	rec, err := h.gitweb.FindByID(ctx, env.GitwebID)
	if err != nil {
		var notFound *dbgateway.NotFoundError
		if errors.As(err, &notFound) {
			deps.Logger.Error("download.git: gitweb record vanished", "gitwebId", env.GitwebID)
		} else {
			deps.Logger.Error("download.git: lookup failed", "gitwebId", env.GitwebID, "error", err)
		}
		return consumer.RejectNoRequeue
	}

	checkoutDir := filepath.Join(h.checkoutBaseDir, checkoutDirName(rec.RepositoryURL))
	gitDir := filepath.Join(checkoutDir, ".git")

	if _, statErr := os.Stat(gitDir); statErr == nil {
		branchResult, err := h.runner.Run(ctx, h.gitBinary, []string{"branch"}, checkoutDir, h.timeout)
		if err != nil {
			deps.Logger.Error("download.git: git branch failed", "gitwebId", env.GitwebID, "error", err)
			return consumer.RejectNoRequeue
		}
		if !strings.Contains(branchResult.Stdout(), "master") {
			deps.Logger.Error("download.git: no local master branch, refusing to pull", "gitwebId", env.GitwebID, "checkoutDir", checkoutDir)
			return consumer.RejectNoRequeue
		}

		pullResult, err := h.runner.Run(ctx, h.gitBinary, []string{"pull"}, checkoutDir, h.timeout)
		if err != nil || pullResult == nil || !pullResult.Successful() {
			deps.Logger.Error("download.git: git pull failed", "gitwebId", env.GitwebID, "error", err)
			return consumer.RejectNoRequeue
		}
	} else {
		if err := os.MkdirAll(checkoutDir, 0o755); err != nil {
			deps.Logger.Error("download.git: mkdir failed", "gitwebId", env.GitwebID, "checkoutDir", checkoutDir, "error", err)
			return consumer.RejectNoRequeue
		}
		cloneResult, err := h.runner.Run(ctx, h.gitBinary, []string{"clone", "--recursive", rec.RepositoryURL, checkoutDir}, "", h.timeout)
		if err != nil || cloneResult == nil || !cloneResult.Successful() {
			deps.Logger.Error("download.git: git clone failed", "gitwebId", env.GitwebID, "error", err)
			return consumer.RejectNoRequeue
		}
	}

	if err := h.gitweb.SetCheckoutDir(ctx, env.GitwebID, checkoutDir); err != nil {
		deps.Logger.Error("download.git: failed to record checkout dir", "gitwebId", env.GitwebID, "error", err)
		return consumer.RejectNoRequeue
	}

	followOn := model.AnalysisEnvelope{Project: env.Project, VersionID: env.GitwebID, CheckoutDir: checkoutDir}
	if err := deps.MQ.Publish(ctx, h.exchange, model.RoutingAnalysisCVSAnaly, followOn); err != nil {
		deps.Logger.Error("download.git: failed to publish follow-on", "gitwebId", env.GitwebID, "error", err)
		return consumer.RejectNoRequeue
	}

	return consumer.Ack
}
