package stages

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/jacobine-go/pipeline/internal/consumer"
	"github.com/jacobine-go/pipeline/internal/dbgateway"
	"github.com/jacobine-go/pipeline/internal/httpfetch"
	"github.com/jacobine-go/pipeline/internal/model"
	"github.com/jacobine-go/pipeline/internal/mqclient"
	"github.com/jacobine-go/pipeline/internal/repository"
)

// DownloadHTTP streams a release tarball to ReleasesPath, verifies its
// checksums, and hands the extracted-path work to Extract.Targz.
type DownloadHTTP struct {
	exchange        string
	releasesPath    string
	downloadTimeout time.Duration
	fetcher         *httpfetch.Fetcher
	versions        *repository.VersionRepository
}

func NewDownloadHTTP(gw *dbgateway.Gateway, fetcher *httpfetch.Fetcher, exchange, releasesPath string, downloadTimeout time.Duration) *DownloadHTTP {
	return &DownloadHTTP{
		exchange:        exchange,
		releasesPath:    releasesPath,
		downloadTimeout: downloadTimeout,
		fetcher:         fetcher,
		versions:        repository.NewVersionRepository(gw, ""),
	}
}

func (h *DownloadHTTP) Name() string { return "Download\\HTTP" }

func (h *DownloadHTTP) Topology() mqclient.Topology {
	return mqclient.Topology{
		Exchange:   h.exchange,
		Queue:      model.RoutingDownloadHTTP,
		RoutingKey: model.RoutingDownloadHTTP,
		DeadLetter: true,
	}
}

func (h *DownloadHTTP) Process(ctx context.Context, deps *consumer.Deps, envelope model.Envelope) consumer.Disposition {
	env, ok := envelope.(model.DownloadHTTPEnvelope)
	if !ok {
		deps.Logger.Error("download.http: unexpected envelope type", "stage", h.Name())
		return consumer.RejectNoRequeue
	}

	rec, err := h.versions.FindByID(ctx, env.VersionID)
	if err != nil {
		var notFound *dbgateway.NotFoundError
		if errors.As(err, &notFound) {
			deps.Logger.Error("download.http: version record vanished", "versionId", env.VersionID)
		} else {
			deps.Logger.Error("download.http: lookup failed", "versionId", env.VersionID, "error", err)
		}
		return consumer.RejectNoRequeue
	}

	if rec.Flag("downloaded") {
		return consumer.Ack
	}

	destPath := filepath.Join(h.releasesPath, env.FilenamePrefix+env.VersionID+env.FilenamePostfix)

	start := time.Now()
	ok, err = h.fetcher.DownloadTo(ctx, rec.URLTar, destPath, h.downloadTimeout)
	if deps.Metrics != nil {
		outcome := "success"
		if err != nil || !ok {
			outcome = "failure"
		}
		deps.Metrics.DownloadDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
	if err != nil || !ok {
		deps.Logger.Error("download.http: download failed", "versionId", env.VersionID, "url", rec.URLTar, "error", err)
		return consumer.RejectNoRequeue
	}

	if err := httpfetch.VerifyChecksums(destPath, rec.ChecksumTarMD5, rec.ChecksumTarSHA1); err != nil {
		deps.Logger.Error("download.http: checksum mismatch, file retained for forensics",
			"versionId", env.VersionID, "path", destPath, "error", err)
		return consumer.RejectNoRequeue
	}

	if err := h.versions.SetFlag(ctx, env.VersionID, "downloaded"); err != nil {
		deps.Logger.Error("download.http: failed to record downloaded flag", "versionId", env.VersionID, "error", err)
		return consumer.RejectNoRequeue
	}

	followOn := model.ExtractTargzEnvelope{Project: env.Project, VersionID: env.VersionID, FilePath: destPath}
	if err := deps.MQ.Publish(ctx, h.exchange, model.RoutingExtractTargz, followOn); err != nil {
		deps.Logger.Error("download.http: failed to publish follow-on", "versionId", env.VersionID, "error", err)
		return consumer.RejectNoRequeue
	}

	return consumer.Ack
}
