// Package model defines the shapes shared by every pipeline stage: the
// work records that live in the relational store and the envelopes that
// travel on the broker.
package model

// WorkRecord is the column set common to every artifact table the
// pipeline tracks (versions, gitweb, and the per-analyzer metric
// tables). Table-specific repositories read/write a narrower view of
// these columns; nothing here is itself persisted as "model.WorkRecord".
type WorkRecord struct {
	ID      string
	Project string

	// Provenance.
	Branch      string
	Version     string
	ReleaseDate string
	Type        string

	// Archive location and integrity.
	URLTar          string
	URLZip          string
	ChecksumTarMD5  string
	ChecksumTarSHA1 string
	ChecksumZipMD5  string
	ChecksumZipSHA1 string

	// Monotonic 0/1 progress flags, keyed by stage name
	// ("downloaded", "extracted", "analyzed_cvsanaly", ...).
	Flags map[string]bool

	// Paths filled in by later stages ("extract_dir", "checkout_dir", ...).
	Paths map[string]string
}

// Flag reports whether the named progress flag is set. A record with a
// nil Flags map behaves as if every flag were unset.
func (r *WorkRecord) Flag(name string) bool {
	if r.Flags == nil {
		return false
	}
	return r.Flags[name]
}

// Path returns the named derived path, or "" if it hasn't been recorded.
func (r *WorkRecord) Path(name string) string {
	if r.Paths == nil {
		return ""
	}
	return r.Paths[name]
}

// GitwebRecord is the work record shape for the gitweb table: a
// reference to a Git repository to be cloned and analyzed, rather than
// a tarball release.
type GitwebRecord struct {
	WorkRecord
	RepositoryURL  string
	RepositoryName string
}
