package producer

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/jacobine-go/pipeline/internal/dbgateway"
	"github.com/jacobine-go/pipeline/internal/httpfetch"
	"github.com/jacobine-go/pipeline/internal/model"
	"github.com/jacobine-go/pipeline/internal/mqclient"
)

type fakeBroker struct {
	mqclient.Broker
	published []model.DownloadHTTPEnvelope
}

func (f *fakeBroker) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	if env, ok := payload.(model.DownloadHTTPEnvelope); ok {
		f.published = append(f.published, env)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const feedFixture = `{
  "latest_stable": "10.4.28",
  "10.4": {
    "releases": {
      "10.4.28": {
        "date": "2022-05-10",
        "type": "regular",
        "tar_package": {"url": "https://get.typo3.org/10.4.28", "md5sum": "aaa", "sha1sum": "bbb"},
        "zip_package": {"url": "https://get.typo3.org/10.4.28/zip", "md5sum": "ccc", "sha1sum": "ddd"}
      },
      "10.4.29-snapshot": {
        "date": "2022-06-01",
        "type": "dev",
        "tar_package": {"url": "https://get.typo3.org/10.4.29-snapshot.tar.gz"}
      }
    }
  }
}`

// TestRunInsertsNewReleaseAndPublishes covers scenario S1: a release not
// yet known to the database is inserted and its download.http message
// published.
func TestRunInsertsNewReleaseAndPublishes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedFixture))
	}))
	defer srv.Close()

	rawDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	gw := dbgateway.NewWithDB(sqlx.NewDb(rawDB, "mysqlmock"), dbgateway.Credentials{})

	mock.ExpectQuery("SELECT \\* FROM versions WHERE project = \\? AND version = \\?").
		WithArgs("TYPO3", "10.4.28").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO versions").WillReturnResult(sqlmock.NewResult(99, 1))

	broker := &fakeBroker{}
	deps := Deps{DB: gw, MQ: broker, Fetcher: httpfetch.New(), Logger: testLogger()}
	cfg := Config{Project: "TYPO3", Exchange: "JacobineAnalysis", FeedURL: srv.URL}

	if err := Run(context.Background(), deps, cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(broker.published) != 1 {
		t.Fatalf("expected 1 published download.http, got %d: %+v", len(broker.published), broker.published)
	}
	if broker.published[0].VersionID != "99" {
		t.Errorf("expected versionId 99 (the inserted row id), got %q", broker.published[0].VersionID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("sqlmock expectations not met: %v", err)
	}
}

// TestRunSkipsSnapshotAndExistingDownloaded covers scenario S2: a
// snapshot tarball is never looked up at all, and an already-downloaded
// existing row is neither re-inserted nor re-published.
func TestRunSkipsSnapshotAndExistingDownloaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedFixture))
	}))
	defer srv.Close()

	rawDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	gw := dbgateway.NewWithDB(sqlx.NewDb(rawDB, "mysqlmock"), dbgateway.Credentials{})

	mock.ExpectQuery("SELECT \\* FROM versions WHERE project = \\? AND version = \\?").
		WithArgs("TYPO3", "10.4.28").
		WillReturnRows(sqlmock.NewRows([]string{"id", "downloaded"}).AddRow("5", 1))

	broker := &fakeBroker{}
	deps := Deps{DB: gw, MQ: broker, Fetcher: httpfetch.New(), Logger: testLogger()}
	cfg := Config{Project: "TYPO3", Exchange: "JacobineAnalysis", FeedURL: srv.URL}

	if err := Run(context.Background(), deps, cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(broker.published) != 0 {
		t.Fatalf("expected no publishes, got %d: %+v", len(broker.published), broker.published)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("sqlmock expectations not met: %v", err)
	}
}

// TestRunRepublishesUndownloadedExistingRelease covers the "present but
// downloaded=0" branch of the upsert: the release already exists but was
// never successfully downloaded, so Run republishes download.http for it
// without inserting a duplicate row.
func TestRunRepublishesUndownloadedExistingRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedFixture))
	}))
	defer srv.Close()

	rawDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	gw := dbgateway.NewWithDB(sqlx.NewDb(rawDB, "mysqlmock"), dbgateway.Credentials{})

	mock.ExpectQuery("SELECT \\* FROM versions WHERE project = \\? AND version = \\?").
		WithArgs("TYPO3", "10.4.28").
		WillReturnRows(sqlmock.NewRows([]string{"id", "downloaded"}).AddRow("5", 0))

	broker := &fakeBroker{}
	deps := Deps{DB: gw, MQ: broker, Fetcher: httpfetch.New(), Logger: testLogger()}
	cfg := Config{Project: "TYPO3", Exchange: "JacobineAnalysis", FeedURL: srv.URL}

	if err := Run(context.Background(), deps, cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(broker.published) != 1 || broker.published[0].VersionID != "5" {
		t.Fatalf("expected a republish for existing row 5, got %+v", broker.published)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("sqlmock expectations not met: %v", err)
	}
}
