// Package sql holds the database schema for the buildstats application and
// the naming convention for its daily partitions.
package sql

import (
	"fmt"
	"time"
)

// Logical table names, in the order they are populated during an insert.
const (
	BuildsTable          = "builds"
	TargetsTable         = "targets"
	StepsTable           = "steps"
	WarningsTable        = "warnings"
	ErrorsTable          = "errors"
	NotesTable           = "notes"
	SwiftFunctionsTable  = "swift_functions"
	SwiftTypeChecksTable = "swift_type_checks"
	HostsTable           = "hosts"
	XcodeVersionsTable   = "xcode_versions"
	MetadataTable        = "metadata"
)

// PartitionedTables is the fixed set of logical tables that are day-sharded.
// Every one of them gets a per-day partition created on demand.
var PartitionedTables = []string{
	BuildsTable,
	TargetsTable,
	StepsTable,
	WarningsTable,
	ErrorsTable,
	NotesTable,
	SwiftFunctionsTable,
	SwiftTypeChecksTable,
	HostsTable,
	XcodeVersionsTable,
	MetadataTable,
}

// PartitionName returns the name of the partition of table holding rows for
// the given day, e.g. "builds_20201231". Callers needing rows for a specific
// day, such as operational queries, must reproduce this exact format.
func PartitionName(table string, day time.Time) string {
	return fmt.Sprintf("%s_%s", table, day.UTC().Format("20060102"))
}

// Schema is the SQL schema for all parent tables. Daily partitions are
// created on demand by the store.
const Schema = `
CREATE TABLE IF NOT EXISTS builds (
	id TEXT NOT NULL,
	project_name TEXT NOT NULL,
	machine_name TEXT NOT NULL,
	schema TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ NOT NULL,
	compilation_ended_at TIMESTAMPTZ NOT NULL,
	start_timestamp DOUBLE PRECISION NOT NULL,
	end_timestamp DOUBLE PRECISION NOT NULL,
	compilation_timestamp DOUBLE PRECISION NOT NULL,
	duration DOUBLE PRECISION NOT NULL,
	compilation_duration DOUBLE PRECISION NOT NULL,
	build_status TEXT NOT NULL,
	warning_count INT NOT NULL,
	error_count INT NOT NULL,
	category TEXT NOT NULL,
	compiled_count INT NOT NULL,
	was_suspended BOOL NOT NULL,
	tag TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	user_id_256 TEXT NOT NULL DEFAULT '',
	is_ci BOOL NOT NULL,
	day DATE NOT NULL,
	PRIMARY KEY (id, day)
) PARTITION BY LIST (day);

CREATE INDEX IF NOT EXISTS builds_project_day_idx ON builds (project_name, day);

CREATE TABLE IF NOT EXISTS targets (
	id TEXT NOT NULL,
	build_identifier TEXT NOT NULL,
	name TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ NOT NULL,
	start_timestamp DOUBLE PRECISION NOT NULL,
	end_timestamp DOUBLE PRECISION NOT NULL,
	duration DOUBLE PRECISION NOT NULL,
	compilation_duration DOUBLE PRECISION NOT NULL,
	fetched_from_cache BOOL NOT NULL,
	category TEXT NOT NULL,
	compiled_count INT NOT NULL,
	warning_count INT NOT NULL,
	error_count INT NOT NULL,
	day DATE NOT NULL,
	PRIMARY KEY (id, day)
) PARTITION BY LIST (day);

CREATE INDEX IF NOT EXISTS targets_build_idx ON targets (build_identifier, day);

CREATE TABLE IF NOT EXISTS steps (
	id TEXT NOT NULL,
	build_identifier TEXT NOT NULL,
	target_identifier TEXT NOT NULL,
	title TEXT NOT NULL,
	signature TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	architecture TEXT NOT NULL DEFAULT '',
	document_url TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ NOT NULL,
	start_timestamp DOUBLE PRECISION NOT NULL,
	end_timestamp DOUBLE PRECISION NOT NULL,
	duration DOUBLE PRECISION NOT NULL,
	fetched_from_cache BOOL NOT NULL,
	day DATE NOT NULL,
	PRIMARY KEY (id, day)
) PARTITION BY LIST (day);

CREATE INDEX IF NOT EXISTS steps_target_idx ON steps (target_identifier, day);

CREATE TABLE IF NOT EXISTS warnings (
	id TEXT NOT NULL,
	build_identifier TEXT NOT NULL,
	parent_identifier TEXT NOT NULL,
	parent_type TEXT NOT NULL,
	title TEXT NOT NULL,
	document_url TEXT NOT NULL DEFAULT '',
	severity INT NOT NULL,
	starting_line INT NOT NULL,
	ending_line INT NOT NULL,
	starting_column INT NOT NULL,
	ending_column INT NOT NULL,
	detail TEXT,
	day DATE NOT NULL,
	PRIMARY KEY (id, day)
) PARTITION BY LIST (day);

CREATE INDEX IF NOT EXISTS warnings_build_idx ON warnings (build_identifier, day);

CREATE TABLE IF NOT EXISTS errors (
	id TEXT NOT NULL,
	build_identifier TEXT NOT NULL,
	parent_identifier TEXT NOT NULL,
	parent_type TEXT NOT NULL,
	title TEXT NOT NULL,
	document_url TEXT NOT NULL DEFAULT '',
	severity INT NOT NULL,
	starting_line INT NOT NULL,
	ending_line INT NOT NULL,
	starting_column INT NOT NULL,
	ending_column INT NOT NULL,
	detail TEXT,
	day DATE NOT NULL,
	PRIMARY KEY (id, day)
) PARTITION BY LIST (day);

CREATE INDEX IF NOT EXISTS errors_build_idx ON errors (build_identifier, day);

CREATE TABLE IF NOT EXISTS notes (
	id TEXT NOT NULL,
	build_identifier TEXT NOT NULL,
	parent_identifier TEXT NOT NULL,
	parent_type TEXT NOT NULL,
	title TEXT NOT NULL,
	document_url TEXT NOT NULL DEFAULT '',
	severity INT NOT NULL,
	starting_line INT NOT NULL,
	ending_line INT NOT NULL,
	starting_column INT NOT NULL,
	ending_column INT NOT NULL,
	detail TEXT,
	day DATE NOT NULL,
	PRIMARY KEY (id, day)
) PARTITION BY LIST (day);

CREATE INDEX IF NOT EXISTS notes_build_idx ON notes (build_identifier, day);

CREATE TABLE IF NOT EXISTS swift_functions (
	id TEXT NOT NULL,
	build_identifier TEXT NOT NULL,
	step_identifier TEXT NOT NULL,
	file TEXT NOT NULL,
	starting_line INT NOT NULL,
	starting_column INT NOT NULL,
	duration_ms DOUBLE PRECISION NOT NULL,
	occurrences INT NOT NULL,
	day DATE NOT NULL,
	PRIMARY KEY (id, day)
) PARTITION BY LIST (day);

CREATE INDEX IF NOT EXISTS swift_functions_build_idx ON swift_functions (build_identifier, day);

CREATE TABLE IF NOT EXISTS swift_type_checks (
	id TEXT NOT NULL,
	build_identifier TEXT NOT NULL,
	step_identifier TEXT NOT NULL,
	file TEXT NOT NULL,
	starting_line INT NOT NULL,
	starting_column INT NOT NULL,
	duration_ms DOUBLE PRECISION NOT NULL,
	occurrences INT NOT NULL,
	day DATE NOT NULL,
	PRIMARY KEY (id, day)
) PARTITION BY LIST (day);

CREATE INDEX IF NOT EXISTS swift_type_checks_build_idx ON swift_type_checks (build_identifier, day);

CREATE TABLE IF NOT EXISTS hosts (
	id TEXT NOT NULL,
	build_identifier TEXT NOT NULL,
	host_os TEXT NOT NULL DEFAULT '',
	host_architecture TEXT NOT NULL DEFAULT '',
	host_model TEXT NOT NULL DEFAULT '',
	host_os_family TEXT NOT NULL DEFAULT '',
	host_os_version TEXT NOT NULL DEFAULT '',
	cpu_model TEXT NOT NULL DEFAULT '',
	cpu_count INT NOT NULL,
	cpu_speed_ghz DOUBLE PRECISION NOT NULL,
	memory_total_mb DOUBLE PRECISION NOT NULL,
	memory_free_mb DOUBLE PRECISION NOT NULL,
	swap_total_mb DOUBLE PRECISION NOT NULL,
	swap_free_mb DOUBLE PRECISION NOT NULL,
	uptime_seconds BIGINT NOT NULL,
	timezone_name TEXT NOT NULL DEFAULT '',
	is_virtual BOOL NOT NULL,
	day DATE NOT NULL,
	PRIMARY KEY (id, day)
) PARTITION BY LIST (day);

CREATE INDEX IF NOT EXISTS hosts_build_idx ON hosts (build_identifier, day);

CREATE TABLE IF NOT EXISTS xcode_versions (
	id TEXT NOT NULL,
	build_identifier TEXT NOT NULL,
	version TEXT NOT NULL,
	build_number TEXT NOT NULL DEFAULT '',
	day DATE NOT NULL,
	PRIMARY KEY (id, day)
) PARTITION BY LIST (day);

CREATE INDEX IF NOT EXISTS xcode_versions_build_idx ON xcode_versions (build_identifier, day);

CREATE TABLE IF NOT EXISTS metadata (
	id TEXT NOT NULL,
	build_identifier TEXT NOT NULL,
	metadata JSONB NOT NULL,
	day DATE NOT NULL,
	PRIMARY KEY (id, day)
) PARTITION BY LIST (day);

CREATE INDEX IF NOT EXISTS metadata_build_idx ON metadata (build_identifier, day);

CREATE TABLE IF NOT EXISTS job_logs (
	id TEXT PRIMARY KEY,
	log_file TEXT NOT NULL,
	log_url TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	queued_at TIMESTAMPTZ NOT NULL,
	dequeued_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS job_logs_queued_idx ON job_logs (queued_at);
`
