package model

import (
	"encoding/json"
	"fmt"
)

// Routing keys for the staged-analysis message graph. Each is both the
// broker routing key and the durable queue name bound to it.
const (
	RoutingDownloadHTTP      = "download.http"
	RoutingDownloadGit       = "download.git"
	RoutingExtractTargz      = "extract.targz"
	RoutingAnalysisCVSAnaly  = "analysis.cvsanaly"
	RoutingAnalysisPHPLoc    = "analysis.phploc"
	RoutingAnalysisPDepend   = "analysis.pdepend"
	RoutingAnalysisLinguist  = "analysis.github.linguist"
)

// AnalysisRoutingKeys lists every analysis.* routing key. Extract.Targz
// does not publish from this list: its fan-out follows the project's
// Analyzers config and never includes cvsanaly (see internal/stages).
var AnalysisRoutingKeys = []string{
	RoutingAnalysisCVSAnaly,
	RoutingAnalysisPHPLoc,
	RoutingAnalysisPDepend,
	RoutingAnalysisLinguist,
}

// Envelope is satisfied by every concrete message payload. RoutingKey
// identifies which queue/binding the envelope belongs on, so the
// consumer runtime can validate a decoded envelope against the queue it
// arrived on instead of trusting the wire content alone.
type Envelope interface {
	RoutingKey() string
}

// DownloadHTTPEnvelope is the payload for the download.http routing key.
type DownloadHTTPEnvelope struct {
	Project          string `json:"project"`
	VersionID        string `json:"versionId"`
	FilenamePrefix   string `json:"filenamePrefix"`
	FilenamePostfix  string `json:"filenamePostfix"`
}

func (DownloadHTTPEnvelope) RoutingKey() string { return RoutingDownloadHTTP }

// DownloadGitEnvelope is the payload for the download.git routing key.
type DownloadGitEnvelope struct {
	Project   string `json:"project"`
	GitwebID  string `json:"gitwebId"`
}

func (DownloadGitEnvelope) RoutingKey() string { return RoutingDownloadGit }

// ExtractTargzEnvelope is the payload for the extract.targz routing key.
type ExtractTargzEnvelope struct {
	Project   string `json:"project"`
	VersionID string `json:"versionId"`
	FilePath  string `json:"filePath"`
}

func (ExtractTargzEnvelope) RoutingKey() string { return RoutingExtractTargz }

// AnalysisEnvelope is the payload shared by every analysis.* routing
// key: a directory to analyze and the work record it belongs to. The
// concrete routing key it was published under is carried separately
// (see Decode) since one Go type serves all four analyzers.
type AnalysisEnvelope struct {
	Project       string `json:"project"`
	VersionID     string `json:"versionId"`
	CheckoutDir   string `json:"checkoutDir"`
	routingKey    string
}

func (e AnalysisEnvelope) RoutingKey() string { return e.routingKey }

// Decode validates routingKey against the closed set this pipeline
// understands and unmarshals body into the matching concrete envelope
// type. An unrecognised routing key or a body that doesn't decode as
// valid JSON for that type is a poison message: the caller should
// reject it without requeue rather than attempt to process it.
func Decode(routingKey string, body []byte) (Envelope, error) {
	switch routingKey {
	case RoutingDownloadHTTP:
		var e DownloadHTTPEnvelope
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, fmt.Errorf("decode %s envelope: %w", routingKey, err)
		}
		if e.Project == "" || e.VersionID == "" {
			return nil, fmt.Errorf("decode %s envelope: missing project or versionId", routingKey)
		}
		return e, nil

	case RoutingDownloadGit:
		var e DownloadGitEnvelope
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, fmt.Errorf("decode %s envelope: %w", routingKey, err)
		}
		if e.Project == "" || e.GitwebID == "" {
			return nil, fmt.Errorf("decode %s envelope: missing project or gitwebId", routingKey)
		}
		return e, nil

	case RoutingExtractTargz:
		var e ExtractTargzEnvelope
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, fmt.Errorf("decode %s envelope: %w", routingKey, err)
		}
		if e.Project == "" || e.VersionID == "" || e.FilePath == "" {
			return nil, fmt.Errorf("decode %s envelope: missing required field", routingKey)
		}
		return e, nil

	case RoutingAnalysisCVSAnaly, RoutingAnalysisPHPLoc, RoutingAnalysisPDepend, RoutingAnalysisLinguist:
		var e AnalysisEnvelope
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, fmt.Errorf("decode %s envelope: %w", routingKey, err)
		}
		if e.Project == "" || e.CheckoutDir == "" {
			return nil, fmt.Errorf("decode %s envelope: missing project or checkoutDir", routingKey)
		}
		e.routingKey = routingKey
		return e, nil

	default:
		return nil, fmt.Errorf("unrecognised routing key %q", routingKey)
	}
}
