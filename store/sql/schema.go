// Package sql provides durable, database/sql-backed implementations of
// store.ProcessStore, store.InstanceStore, and store.JobStore on top of
// flowengine/data/db, following the reference relational schema. The
// statements call SQLite's datetime('now'); flowengine/data/db/basic.New opens the
// connection and flowengine/data/db/dialect adapts placeholder syntax and
// error classification per backend.
package sql

import (
	"context"

	core "flowengine/data/db"
)

// Schema is the DDL for all three tables. It is provided for convenience
// (tests and cmd/worker use it to bootstrap a throwaway database); embedding
// applications are free to manage migrations their own way since the stores
// only ever issue DML against these table/column names.
const Schema = `
CREATE TABLE IF NOT EXISTS process_definitions (
	id               TEXT PRIMARY KEY,
	key              TEXT NOT NULL,
	version          INTEGER NOT NULL,
	name             TEXT NOT NULL,
	xml              TEXT NOT NULL,
	elements_json    TEXT NOT NULL,
	flows_json       TEXT NOT NULL,
	is_latest        INTEGER NOT NULL,
	created_utc      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_process_definitions_key_latest
	ON process_definitions(key, is_latest);

CREATE TABLE IF NOT EXISTS process_instances (
	id                       TEXT PRIMARY KEY,
	process_definition_id    TEXT NOT NULL,
	process_key              TEXT NOT NULL,
	status                   TEXT NOT NULL,
	variables_json           TEXT NOT NULL,
	active_tokens_json       TEXT NOT NULL,
	parallel_join_waits_json TEXT NOT NULL,
	simulation_mode          INTEGER NOT NULL,
	created_utc              TEXT NOT NULL,
	concurrency_token        BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_process_instances_process_key
	ON process_instances(process_key);

CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY,
	type               TEXT NOT NULL,
	process_instance_id TEXT NOT NULL,
	run_at             DATETIME,
	owner_id           TEXT,
	locked_until       DATETIME,
	attempt            INTEGER NOT NULL,
	concurrency_token  BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_eligibility
	ON jobs(locked_until, run_at);
`

// statusRunning and friends mirror the enum string the reference schema
// specifies for process_instances.status.
const (
	statusRunning   = "Running"
	statusCompleted = "Completed"
)

// Migrate applies Schema against database. Safe to call repeatedly.
func Migrate(ctx context.Context, database core.IDatabase) error {
	_, err := database.Exec(ctx, Schema)
	return err
}
