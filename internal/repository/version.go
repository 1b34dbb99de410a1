package repository

import (
	"context"
	"fmt"

	"github.com/jacobine-go/pipeline/internal/dbgateway"
	"github.com/jacobine-go/pipeline/internal/model"
)

// versionFlagColumns lists the monotonic 0/1 progress columns on the
// versions table, in the order the pipeline's stages set them.
var versionFlagColumns = []string{
	"downloaded",
	"extracted",
	"analyzed_cvsanaly",
	"analyzed_phploc",
	"analyzed_pdepend",
	"analyzed_linguist",
}

var versionPathColumns = []string{"extract_dir", "checkout_dir"}

// VersionRepository reads and writes the versions table: one row per
// release of a project, tracking archive location, checksums, and the
// progress flags every stage consumer flips in turn.
type VersionRepository struct {
	gw    *dbgateway.Gateway
	table string
}

// NewVersionRepository builds a repository bound to the versions table
// on gw. table defaults to "versions" when empty.
func NewVersionRepository(gw *dbgateway.Gateway, table string) *VersionRepository {
	if table == "" {
		table = "versions"
	}
	return &VersionRepository{gw: gw, table: table}
}

// FindByID loads the work record with the given surrogate id. A missing
// row is a NotFoundError — callers treat this as poison and reject the
// referencing message without requeue.
func (r *VersionRepository) FindByID(ctx context.Context, id string) (*model.WorkRecord, error) {
	rows, err := r.gw.Select(ctx, r.table, map[string]any{"id": id}, dbgateway.SelectOptions{Limit: "1"})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &dbgateway.NotFoundError{Table: r.table, ID: id}
	}
	return rowToRecord(rows[0]), nil
}

// FindByVersion looks up a release by its project and version string,
// the natural key the producer upserts on. Absence is not an error here:
// the producer treats it as "insert a new row".
func (r *VersionRepository) FindByVersion(ctx context.Context, project, version string) (*model.WorkRecord, bool, error) {
	rows, err := r.gw.Select(ctx, r.table, map[string]any{"project": project, "version": version}, dbgateway.SelectOptions{Limit: "1"})
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rowToRecord(rows[0]), true, nil
}

// Insert creates a new release row with every progress flag at 0.
func (r *VersionRepository) Insert(ctx context.Context, rec *model.WorkRecord) (string, error) {
	values := map[string]any{
		"project":           rec.Project,
		"branch":            rec.Branch,
		"version":           rec.Version,
		"release_date":      rec.ReleaseDate,
		"type":              rec.Type,
		"url_tar":           rec.URLTar,
		"url_zip":           rec.URLZip,
		"checksum_tar_md5":  rec.ChecksumTarMD5,
		"checksum_tar_sha1": rec.ChecksumTarSHA1,
		"checksum_zip_md5":  rec.ChecksumZipMD5,
		"checksum_zip_sha1": rec.ChecksumZipSHA1,
	}
	for _, col := range versionFlagColumns {
		values[col] = 0
	}
	return r.gw.Insert(ctx, r.table, values)
}

// SetFlag flips one progress column to 1 for the given record id.
func (r *VersionRepository) SetFlag(ctx context.Context, id, flagColumn string) error {
	if !isKnownColumn(versionFlagColumns, flagColumn) {
		return fmt.Errorf("repository: unknown version flag column %q", flagColumn)
	}
	_, err := r.gw.Update(ctx, r.table, map[string]any{flagColumn: 1}, map[string]any{"id": id})
	return err
}

// SetFlagAndPath flips flagColumn to 1 and writes pathColumn in the same
// statement, so a stage's "record the work and advance" step is atomic
// from the database's perspective.
func (r *VersionRepository) SetFlagAndPath(ctx context.Context, id, flagColumn, pathColumn, pathValue string) error {
	if !isKnownColumn(versionFlagColumns, flagColumn) {
		return fmt.Errorf("repository: unknown version flag column %q", flagColumn)
	}
	if !isKnownColumn(versionPathColumns, pathColumn) {
		return fmt.Errorf("repository: unknown version path column %q", pathColumn)
	}
	_, err := r.gw.Update(ctx, r.table,
		map[string]any{flagColumn: 1, pathColumn: pathValue},
		map[string]any{"id": id})
	return err
}

func isKnownColumn(known []string, col string) bool {
	for _, c := range known {
		if c == col {
			return true
		}
	}
	return false
}

func rowToRecord(row map[string]any) *model.WorkRecord {
	rec := &model.WorkRecord{
		ID:              toString(row["id"]),
		Project:         toString(row["project"]),
		Branch:          toString(row["branch"]),
		Version:         toString(row["version"]),
		ReleaseDate:     toString(row["release_date"]),
		Type:            toString(row["type"]),
		URLTar:          toString(row["url_tar"]),
		URLZip:          toString(row["url_zip"]),
		ChecksumTarMD5:  toString(row["checksum_tar_md5"]),
		ChecksumTarSHA1: toString(row["checksum_tar_sha1"]),
		ChecksumZipMD5:  toString(row["checksum_zip_md5"]),
		ChecksumZipSHA1: toString(row["checksum_zip_sha1"]),
		Flags:           make(map[string]bool),
		Paths:           make(map[string]string),
	}
	for _, col := range versionFlagColumns {
		if v, ok := row[col]; ok {
			rec.Flags[col] = toBool(v)
		}
	}
	for _, col := range versionPathColumns {
		if v, ok := row[col]; ok {
			rec.Paths[col] = toString(v)
		}
	}
	return rec
}
