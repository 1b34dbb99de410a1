package repository

import (
	"context"

	"github.com/jacobine-go/pipeline/internal/dbgateway"
	"github.com/jacobine-go/pipeline/internal/model"
)

// GitwebRepository reads the gitweb table: one row per Git repository a
// project wants cloned and analyzed, independent of the tarball-release
// pipeline.
type GitwebRepository struct {
	gw    *dbgateway.Gateway
	table string
}

func NewGitwebRepository(gw *dbgateway.Gateway, table string) *GitwebRepository {
	if table == "" {
		table = "gitweb"
	}
	return &GitwebRepository{gw: gw, table: table}
}

func (r *GitwebRepository) FindByID(ctx context.Context, id string) (*model.GitwebRecord, error) {
	rows, err := r.gw.Select(ctx, r.table, map[string]any{"id": id}, dbgateway.SelectOptions{Limit: "1"})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &dbgateway.NotFoundError{Table: r.table, ID: id}
	}
	row := rows[0]
	rec := &model.GitwebRecord{
		WorkRecord: model.WorkRecord{
			ID:      toString(row["id"]),
			Project: toString(row["project"]),
			Flags:   map[string]bool{"analyzed_cvsanaly": toBool(row["analyzed_cvsanaly"])},
			Paths:   map[string]string{"checkout_dir": toString(row["checkout_dir"])},
		},
		RepositoryURL:  toString(row["repository_url"]),
		RepositoryName: toString(row["repository_name"]),
	}
	return rec, nil
}

// SetCheckoutDir records the deterministic checkout directory Download.Git
// resolved the repository to.
func (r *GitwebRepository) SetCheckoutDir(ctx context.Context, id, checkoutDir string) error {
	_, err := r.gw.Update(ctx, r.table, map[string]any{"checkout_dir": checkoutDir}, map[string]any{"id": id})
	return err
}

// SetAnalyzed flips the analyzed_cvsanaly flag once CVSAnaly has run
// against the checkout.
func (r *GitwebRepository) SetAnalyzed(ctx context.Context, id string) error {
	_, err := r.gw.Update(ctx, r.table, map[string]any{"analyzed_cvsanaly": 1}, map[string]any{"id": id})
	return err
}
