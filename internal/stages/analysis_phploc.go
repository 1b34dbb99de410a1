package stages

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jacobine-go/pipeline/internal/consumer"
	"github.com/jacobine-go/pipeline/internal/dbgateway"
	"github.com/jacobine-go/pipeline/internal/model"
	"github.com/jacobine-go/pipeline/internal/mqclient"
	"github.com/jacobine-go/pipeline/internal/processrunner"
	"github.com/jacobine-go/pipeline/internal/repository"
)

// AnalysisPHPLoc runs phploc against an extracted checkout and parses
// its --log-csv summary into a phploc_metrics row.
type AnalysisPHPLoc struct {
	exchange string
	binary   string
	timeout  time.Duration
	runner   processrunner.Interface
	versions *repository.VersionRepository
	metrics  *repository.MetricsRepository
}

func NewAnalysisPHPLoc(gw *dbgateway.Gateway, runner processrunner.Interface, exchange, binary string, timeout time.Duration) *AnalysisPHPLoc {
	return &AnalysisPHPLoc{
		exchange: exchange,
		binary:   binary,
		timeout:  timeout,
		runner:   runner,
		versions: repository.NewVersionRepository(gw, ""),
		metrics:  repository.NewMetricsRepository(gw),
	}
}

func (h *AnalysisPHPLoc) Name() string { return "Analysis\\PHPLoc" }

func (h *AnalysisPHPLoc) Topology() mqclient.Topology {
	return mqclient.Topology{
		Exchange:   h.exchange,
		Queue:      model.RoutingAnalysisPHPLoc,
		RoutingKey: model.RoutingAnalysisPHPLoc,
		DeadLetter: true,
	}
}

func (h *AnalysisPHPLoc) Process(ctx context.Context, deps *consumer.Deps, envelope model.Envelope) consumer.Disposition {
	env, ok := envelope.(model.AnalysisEnvelope)
	if !ok {
		deps.Logger.Error("analysis.phploc: unexpected envelope type", "stage", h.Name())
		return consumer.RejectNoRequeue
	}

	rec, err := h.versions.FindByID(ctx, env.VersionID)
	if err != nil {
		var notFound *dbgateway.NotFoundError
		if errors.As(err, &notFound) {
			deps.Logger.Error("analysis.phploc: version record vanished", "versionId", env.VersionID)
		} else {
			deps.Logger.Error("analysis.phploc: lookup failed", "versionId", env.VersionID, "error", err)
		}
		return consumer.RejectNoRequeue
	}
	if rec.Flag("analyzed_phploc") {
		return consumer.Ack
	}

	csvPath := filepath.Join(env.CheckoutDir, ".phploc.csv")
	args := []string{"--log-csv", csvPath, env.CheckoutDir}

	start := time.Now()
	result, err := h.runner.Run(ctx, h.binary, args, "", h.timeout)
	if deps.Metrics != nil {
		deps.Metrics.ProcessDuration.WithLabelValues("phploc").Observe(time.Since(start).Seconds())
	}
	if err != nil || result == nil || !result.Successful() {
		deps.Logger.Error("analysis.phploc: tool failed", "versionId", env.VersionID,
			"commandLine", safeCommandLine(result), "stderr", safeStderr(result), "error", err)
		return consumer.RejectNoRequeue
	}

	data, err := os.ReadFile(csvPath)
	if err != nil {
		deps.Logger.Error("analysis.phploc: could not read csv output", "versionId", env.VersionID, "path", csvPath, "error", err)
		return consumer.RejectNoRequeue
	}

	row, err := parsePHPLocCSV(data)
	if err != nil {
		deps.Logger.Error("analysis.phploc: could not parse csv output", "versionId", env.VersionID, "error", err)
		return consumer.RejectNoRequeue
	}
	row.VersionID = env.VersionID

	if _, err := h.metrics.InsertPHPLoc(ctx, row); err != nil {
		deps.Logger.Error("analysis.phploc: failed to record metrics", "versionId", env.VersionID, "error", err)
		return consumer.RejectNoRequeue
	}

	if err := h.versions.SetFlag(ctx, env.VersionID, "analyzed_phploc"); err != nil {
		deps.Logger.Error("analysis.phploc: failed to set analyzed flag", "versionId", env.VersionID, "error", err)
		return consumer.RejectNoRequeue
	}

	return consumer.Ack
}

// parsePHPLocCSV reads phploc's single-row --log-csv output: a header
// naming each column and exactly one data row with the corresponding
// counts.
func parsePHPLocCSV(data []byte) (repository.PHPLocMetrics, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	records, err := reader.ReadAll()
	if err != nil {
		return repository.PHPLocMetrics{}, fmt.Errorf("parse phploc csv: %w", err)
	}
	if len(records) < 2 {
		return repository.PHPLocMetrics{}, fmt.Errorf("parse phploc csv: expected header and one data row, got %d rows", len(records))
	}

	header := records[0]
	dataRow := records[1]
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}

	get := func(name string) int {
		i, ok := index[name]
		if !ok || i >= len(dataRow) {
			return 0
		}
		n, _ := strconv.Atoi(strings.TrimSpace(dataRow[i]))
		return n
	}

	return repository.PHPLocMetrics{
		Directories: get("Directories"),
		Files:       get("Files"),
		LLOC:        get("LLOC"),
		CLOC:        get("CLOC"),
		NCLOC:       get("NCLOC"),
	}, nil
}
