package stages

import (
	"context"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/jacobine-go/pipeline/internal/consumer"
	"github.com/jacobine-go/pipeline/internal/dbgateway"
	"github.com/jacobine-go/pipeline/internal/metrics"
	"github.com/jacobine-go/pipeline/internal/model"
	"github.com/jacobine-go/pipeline/internal/processrunner"
)

const pdependXMLFixture = `<?xml version="1.0"?><metrics packages="3" classes="40" methods="210" ccn2="512"/>`

func TestAnalysisPDependParsesXMLAndRecordsMetrics(t *testing.T) {
	rawDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	gw := dbgateway.NewWithDB(sqlx.NewDb(rawDB, "mysqlmock"), dbgateway.Credentials{})

	mock.ExpectQuery("SELECT \\* FROM versions WHERE id = \\?").
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"id", "analyzed_pdepend"}).AddRow("42", 0))
	mock.ExpectExec("INSERT INTO pdepend_metrics").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE versions SET analyzed_pdepend = \\?").WillReturnResult(sqlmock.NewResult(0, 1))

	runner := newFakeRunner()
	runner.stubWithSideEffect("/usr/bin/pdepend", processrunner.NewResult("pdepend", 0, "", "", true), nil, func(args []string) {
		xmlPath := args[0][len("--summary-xml="):]
		if err := os.WriteFile(xmlPath, []byte(pdependXMLFixture), 0o644); err != nil {
			t.Fatalf("writing pdepend xml fixture: %v", err)
		}
	})

	broker := &fakeBroker{}
	deps := &consumer.Deps{DB: gw, MQ: broker, Metrics: metrics.New("jacobine_test_pdepend"), Logger: testLogger()}

	h := NewAnalysisPDepend(gw, runner, "JacobineAnalysis", "/usr/bin/pdepend", 0)
	envelope := model.AnalysisEnvelope{Project: "TYPO3", VersionID: "42", CheckoutDir: t.TempDir()}

	disposition := h.Process(context.Background(), deps, envelope)
	if disposition != consumer.Ack {
		t.Fatalf("expected Ack, got %v", disposition)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("sqlmock expectations not met: %v", err)
	}
}

// TestAnalysisPDependRecordNotFoundRejects covers universal property 1: a
// message referencing a version id no longer in the database is rejected
// without requeue, never invoking pdepend.
func TestAnalysisPDependRecordNotFoundRejects(t *testing.T) {
	rawDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	gw := dbgateway.NewWithDB(sqlx.NewDb(rawDB, "mysqlmock"), dbgateway.Credentials{})

	mock.ExpectQuery("SELECT \\* FROM versions WHERE id = \\?").
		WithArgs("999").
		WillReturnRows(sqlmock.NewRows([]string{"id", "analyzed_pdepend"}))

	runner := newFakeRunner()
	broker := &fakeBroker{}
	deps := &consumer.Deps{DB: gw, MQ: broker, Metrics: metrics.New("jacobine_test_pdepend_notfound"), Logger: testLogger()}

	h := NewAnalysisPDepend(gw, runner, "JacobineAnalysis", "/usr/bin/pdepend", 0)
	envelope := model.AnalysisEnvelope{Project: "TYPO3", VersionID: "999", CheckoutDir: t.TempDir()}

	disposition := h.Process(context.Background(), deps, envelope)
	if disposition != consumer.RejectNoRequeue {
		t.Fatalf("expected RejectNoRequeue for a missing record, got %v", disposition)
	}
	if len(runner.calls) != 0 {
		t.Errorf("expected no pdepend invocation, got %+v", runner.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("sqlmock expectations not met: %v", err)
	}
}

func TestAnalysisPDependWrongEnvelopeTypeRejects(t *testing.T) {
	deps := &consumer.Deps{MQ: &fakeBroker{}, Logger: testLogger()}
	h := NewAnalysisPDepend(nil, newFakeRunner(), "JacobineAnalysis", "/usr/bin/pdepend", 0)

	disposition := h.Process(context.Background(), deps, model.DownloadHTTPEnvelope{Project: "TYPO3", VersionID: "1"})
	if disposition != consumer.RejectNoRequeue {
		t.Fatalf("expected RejectNoRequeue for a mistyped envelope, got %v", disposition)
	}
}
