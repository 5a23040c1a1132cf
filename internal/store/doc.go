// Package store persists jobs, assets, transcripts, speakers, and embeddings
// in SQLite. All writes that gate the job lifecycle are conditional updates
// keyed by job id and current status, so concurrent workers and stale handles
// cannot clobber terminal states.
package store
