package stages

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/jacobine-go/pipeline/internal/consumer"
	"github.com/jacobine-go/pipeline/internal/dbgateway"
	"github.com/jacobine-go/pipeline/internal/metrics"
	"github.com/jacobine-go/pipeline/internal/model"
)

// TestExtractTargzFansOutConfiguredAnalyzers extracts an archive and
// publishes one analysis message per configured analyzer, skipping
// cvsanaly even if a caller mistakenly lists it — it is never driven off
// a tarball extraction.
func TestExtractTargzFansOutConfiguredAnalyzers(t *testing.T) {
	rawDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	gw := dbgateway.NewWithDB(sqlx.NewDb(rawDB, "mysqlmock"), dbgateway.Credentials{})

	mock.ExpectQuery("SELECT \\* FROM versions WHERE id = \\?").
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"id", "extracted"}).AddRow("42", 0))

	mock.ExpectExec("UPDATE versions SET extract_dir = \\?, extracted = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))

	runner := newFakeRunner()
	broker := &fakeBroker{}
	deps := &consumer.Deps{DB: gw, MQ: broker, Metrics: metrics.New("jacobine_test_extract_ok"), Logger: testLogger()}

	extractBase := t.TempDir()
	h := NewExtractTargz(gw, runner, "JacobineAnalysis", "/bin/tar", extractBase, 0, []string{"cvsanaly", "phploc", "linguist"})
	envelope := model.ExtractTargzEnvelope{Project: "TYPO3", VersionID: "42", FilePath: "/data/releases/typo3_src-42.tar.gz"}

	disposition := h.Process(context.Background(), deps, envelope)
	if disposition != consumer.Ack {
		t.Fatalf("expected Ack, got %v", disposition)
	}

	if len(runner.calls) != 1 || runner.calls[0].name != "/bin/tar" {
		t.Fatalf("expected exactly one tar invocation, got %+v", runner.calls)
	}
	wantDir := filepath.Join(extractBase, "42")
	if runner.calls[0].dir != "" {
		t.Errorf("tar is invoked with -C, not cmd.Dir; got dir %q", runner.calls[0].dir)
	}
	foundC := false
	for _, a := range runner.calls[0].args {
		if a == wantDir {
			foundC = true
		}
	}
	if !foundC {
		t.Errorf("expected -C %s in tar args, got %v", wantDir, runner.calls[0].args)
	}

	if len(broker.published) != 2 {
		t.Fatalf("expected 2 follow-ons (phploc, linguist; cvsanaly skipped), got %d", len(broker.published))
	}
	gotKeys := map[string]bool{}
	for _, m := range broker.published {
		gotKeys[m.routingKey] = true
	}
	if !gotKeys[model.RoutingAnalysisPHPLoc] || !gotKeys[model.RoutingAnalysisLinguist] {
		t.Errorf("expected phploc and linguist routing keys, got %v", gotKeys)
	}
	if gotKeys[model.RoutingAnalysisCVSAnaly] {
		t.Error("cvsanaly must never be published from Extract.Targz's fan-out")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("sqlmock expectations not met: %v", err)
	}
}

// TestExtractTargzRecordNotFoundRejects covers universal property 1: a
// message referencing a version id no longer in the database is rejected
// without requeue, never invoking tar.
func TestExtractTargzRecordNotFoundRejects(t *testing.T) {
	rawDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	gw := dbgateway.NewWithDB(sqlx.NewDb(rawDB, "mysqlmock"), dbgateway.Credentials{})

	mock.ExpectQuery("SELECT \\* FROM versions WHERE id = \\?").
		WithArgs("999").
		WillReturnRows(sqlmock.NewRows([]string{"id", "extracted"}))

	runner := newFakeRunner()
	broker := &fakeBroker{}
	deps := &consumer.Deps{DB: gw, MQ: broker, Metrics: metrics.New("jacobine_test_extract_notfound"), Logger: testLogger()}

	h := NewExtractTargz(gw, runner, "JacobineAnalysis", "/bin/tar", t.TempDir(), 0, []string{"phploc"})
	envelope := model.ExtractTargzEnvelope{Project: "TYPO3", VersionID: "999", FilePath: "/data/releases/typo3_src-999.tar.gz"}

	disposition := h.Process(context.Background(), deps, envelope)
	if disposition != consumer.RejectNoRequeue {
		t.Fatalf("expected RejectNoRequeue for a missing record, got %v", disposition)
	}
	if len(runner.calls) != 0 {
		t.Errorf("expected no tar invocation, got %+v", runner.calls)
	}
	if len(broker.published) != 0 {
		t.Errorf("expected no follow-on published, got %d", len(broker.published))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("sqlmock expectations not met: %v", err)
	}
}

// TestExtractTargzAlreadyExtractedIsIdempotent covers the universal
// idempotence property: a replayed delivery for an already-extracted
// version acks without invoking tar again or re-publishing.
func TestExtractTargzAlreadyExtractedIsIdempotent(t *testing.T) {
	rawDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	gw := dbgateway.NewWithDB(sqlx.NewDb(rawDB, "mysqlmock"), dbgateway.Credentials{})

	mock.ExpectQuery("SELECT \\* FROM versions WHERE id = \\?").
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"id", "extracted"}).AddRow("42", 1))

	runner := newFakeRunner()
	broker := &fakeBroker{}
	deps := &consumer.Deps{DB: gw, MQ: broker, Metrics: metrics.New("jacobine_test_extract_idempotent"), Logger: testLogger()}

	h := NewExtractTargz(gw, runner, "JacobineAnalysis", "/bin/tar", t.TempDir(), 0, []string{"phploc"})
	envelope := model.ExtractTargzEnvelope{Project: "TYPO3", VersionID: "42", FilePath: "/data/releases/typo3_src-42.tar.gz"}

	disposition := h.Process(context.Background(), deps, envelope)
	if disposition != consumer.Ack {
		t.Fatalf("expected Ack, got %v", disposition)
	}
	if len(runner.calls) != 0 {
		t.Errorf("expected no tar invocation on replay, got %d", len(runner.calls))
	}
	if len(broker.published) != 0 {
		t.Errorf("expected no re-publish on replay, got %d", len(broker.published))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("sqlmock expectations not met: %v", err)
	}
}
