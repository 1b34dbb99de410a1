// Package stages implements the seven pipeline stage handlers: the
// concrete edges of the analysis DAG the consumer runtime dispatches to.
// Every handler follows the same template — load record, check its
// precondition flag, do the external work, update the record, publish
// the follow-on message (the analysis stages have none), then let the
// runtime ack — and differs only in which flag, which external tool, and
// which follow-on routing key it owns.
package stages

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/jacobine-go/pipeline/internal/model"
)

// analyzerRoutingKeys maps the short analyzer names a project's config
// lists under its tarball-extraction analyzers to the routing key
// Extract.Targz publishes to. cvsanaly is deliberately absent: it mines
// full Git commit history, which a tarball extraction never has, so it
// only ever runs off Download.Git's gitweb checkouts, never this fan-out.
var analyzerRoutingKeys = map[string]string{
	"phploc":   model.RoutingAnalysisPHPLoc,
	"pdepend":  model.RoutingAnalysisPDepend,
	"linguist": model.RoutingAnalysisLinguist,
}

// checkoutDirName derives a deterministic, collision-resistant directory
// name from a Git repository URL. It replaces the source's textual
// `/`-and-`.` substitution (which can alias two distinct repository
// names onto the same directory) with a content hash of the full URL.
func checkoutDirName(repositoryURL string) string {
	sum := sha256.Sum256([]byte(repositoryURL))
	return hex.EncodeToString(sum[:])[:16]
}
