// Package producer implements the one-shot job that seeds the pipeline:
// it reads a project's upstream release feed, upserts each release into
// the versions table, and publishes download.http for everything that
// still needs fetching. It is not a consumer — it runs once per
// invocation and exits.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jacobine-go/pipeline/internal/dbgateway"
	"github.com/jacobine-go/pipeline/internal/httpfetch"
	"github.com/jacobine-go/pipeline/internal/model"
	"github.com/jacobine-go/pipeline/internal/mqclient"
	"github.com/jacobine-go/pipeline/internal/repository"
)

// feedPackage is one archive format's entry in a release's feed object.
type feedPackage struct {
	URL     string `json:"url"`
	MD5Sum  string `json:"md5sum"`
	SHA1Sum string `json:"sha1sum"`
}

// feedRelease is one version entry under a branch's "releases" map.
type feedRelease struct {
	Date       string      `json:"date"`
	Type       string      `json:"type"`
	TarPackage feedPackage `json:"tar_package"`
	ZipPackage feedPackage `json:"zip_package"`
}

// feedBranch is a recognised branch entry: anything with a non-empty
// releases map. The feed document also carries bookkeeping string
// entries ("latest_stable", "latest_lts", "latest_deprecated") that
// don't unmarshal into this shape and are skipped.
type feedBranch struct {
	Releases map[string]feedRelease `json:"releases"`
}

// Deps are the collaborators Run needs: everything already wired by the
// CLI before dispatching to the producer.
type Deps struct {
	DB      *dbgateway.Gateway
	MQ      mqclient.Broker
	Fetcher *httpfetch.Fetcher
	Logger  *slog.Logger
}

// Config is the subset of a project's configuration the producer reads.
type Config struct {
	Project        string
	Exchange       string
	FeedURL        string
	RequestTimeout time.Duration
}

// Run fetches cfg.FeedURL, upserts every recognised release into the
// versions table, and publishes download.http for each one that still
// needs its tarball fetched.
func Run(ctx context.Context, deps Deps, cfg Config) error {
	_, _, body, err := deps.Fetcher.Get(ctx, cfg.FeedURL, cfg.RequestTimeout)
	if err != nil {
		return fmt.Errorf("producer: fetch feed %s: %w", cfg.FeedURL, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("producer: parse feed %s: %w", cfg.FeedURL, err)
	}

	versions := repository.NewVersionRepository(deps.DB, "")

	inserted, republished, skipped := 0, 0, 0
	for branchName, entry := range raw {
		var branch feedBranch
		if err := json.Unmarshal(entry, &branch); err != nil || len(branch.Releases) == 0 {
			continue
		}

		for version, release := range branch.Releases {
			if strings.Contains(release.TarPackage.URL, "snapshot") {
				skipped++
				continue
			}

			existing, found, err := versions.FindByVersion(ctx, cfg.Project, version)
			if err != nil {
				return fmt.Errorf("producer: lookup %s %s: %w", cfg.Project, version, err)
			}

			if !found {
				rec := &model.WorkRecord{
					Project:         cfg.Project,
					Branch:          branchName,
					Version:         version,
					ReleaseDate:     release.Date,
					Type:            release.Type,
					URLTar:          release.TarPackage.URL,
					URLZip:          release.ZipPackage.URL,
					ChecksumTarMD5:  release.TarPackage.MD5Sum,
					ChecksumTarSHA1: release.TarPackage.SHA1Sum,
					ChecksumZipMD5:  release.ZipPackage.MD5Sum,
					ChecksumZipSHA1: release.ZipPackage.SHA1Sum,
				}
				id, err := versions.Insert(ctx, rec)
				if err != nil {
					return fmt.Errorf("producer: insert %s %s: %w", cfg.Project, version, err)
				}
				if err := publishDownload(ctx, deps, cfg, id); err != nil {
					return err
				}
				inserted++
				continue
			}

			if existing.Flag("downloaded") {
				skipped++
				continue
			}
			if err := publishDownload(ctx, deps, cfg, existing.ID); err != nil {
				return err
			}
			republished++
		}
	}

	deps.Logger.Info("producer run complete", "project", cfg.Project,
		"inserted", inserted, "republished", republished, "skipped", skipped)
	return nil
}

func publishDownload(ctx context.Context, deps Deps, cfg Config, versionID string) error {
	envelope := model.DownloadHTTPEnvelope{
		Project:         cfg.Project,
		VersionID:       versionID,
		FilenamePrefix:  strings.ToLower(cfg.Project) + "_src-",
		FilenamePostfix: ".tar.gz",
	}
	if err := deps.MQ.Publish(ctx, cfg.Exchange, model.RoutingDownloadHTTP, envelope); err != nil {
		return fmt.Errorf("producer: publish download.http for version %s: %w", versionID, err)
	}
	return nil
}
