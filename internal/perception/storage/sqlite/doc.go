// Package sqlite persists evaluation results: per-tick metric snapshots and
// rolling per-object track summaries. Stores are plain functions over a
// *sql.DB so callers control transactions and connection lifetime.
package sqlite
