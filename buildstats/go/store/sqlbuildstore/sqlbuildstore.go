// Package sqlbuildstore implements store.Store against a Postgres database
// with day-partitioned tables.
package sqlbuildstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"

	"go.buildstats.org/infra/buildstats/go/sql"
	"go.buildstats.org/infra/buildstats/go/store"
	"go.buildstats.org/infra/buildstats/go/types"
	"go.buildstats.org/infra/go/metrics2"
	"go.buildstats.org/infra/go/skerr"
	"go.buildstats.org/infra/go/sklog"
	"go.buildstats.org/infra/go/sql/pool"
	"go.buildstats.org/infra/go/sql/sqlutil"
	"go.buildstats.org/infra/go/timer"
	"go.buildstats.org/infra/go/util"
)

// insertChunkSize is the number of rows written per multi-row INSERT. Large
// builds can carry tens of thousands of steps; chunking keeps each statement
// under Postgres' placeholder limit.
const insertChunkSize = 200

type statement int

const (
	buildExists statement = iota
	getBuild
	listBuilds
	countsPerDay
)

const buildColumns = `id, project_name, machine_name, schema, started_at,
	ended_at, compilation_ended_at, start_timestamp, end_timestamp,
	compilation_timestamp, duration, compilation_duration, build_status,
	warning_count, error_count, category, compiled_count, was_suspended, tag,
	user_id, user_id_256, is_ci, day`

var statements = map[statement]string{
	buildExists: `
		SELECT
			EXISTS (
				SELECT 1 FROM builds WHERE id = $1
			)`,
	getBuild: `
		SELECT ` + buildColumns + `
		FROM
			builds
		WHERE
			id = $1`,
	listBuilds: `
		SELECT ` + buildColumns + `
		FROM
			builds
		WHERE
			project_name = $1
			AND day = $2
		ORDER BY
			started_at DESC`,
	countsPerDay: `
		SELECT
			day, COUNT(*)
		FROM
			builds
		WHERE
			day >= $1 AND day <= $2
		GROUP BY
			day`,
}

// SQLBuildStore implements store.Store.
type SQLBuildStore struct {
	db         pool.Pool
	partitions *partitionEnsurer

	insertedBuilds  metrics2.Counter
	duplicateBuilds metrics2.Counter
	insertSummary   metrics2.Float64SummaryMetric
}

// New returns a *SQLBuildStore using the given database pool.
func New(db pool.Pool) (*SQLBuildStore, error) {
	partitions, err := newPartitionEnsurer(sqlPartitionDDL{db: db})
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return &SQLBuildStore{
		db:              db,
		partitions:      partitions,
		insertedBuilds:  metrics2.GetCounter("buildstats_store_inserted_builds"),
		duplicateBuilds: metrics2.GetCounter("buildstats_store_duplicate_builds"),
		insertSummary:   metrics2.GetFloat64SummaryMetric("buildstats_store_insert_seconds"),
	}, nil
}

// InsertBuildMetrics implements store.Store.
func (s *SQLBuildStore) InsertBuildMetrics(ctx context.Context, agg *types.Aggregate) error {
	defer timer.NewWithSummary("sqlbuildstore_insert", s.insertSummary).Stop()

	if agg.Build.ID == "" {
		return skerr.Fmt("Aggregate has an empty build id.")
	}
	if agg.Build.Day.IsZero() {
		agg.SetDay(types.DayOf(agg.Build.StartedAt))
	}
	if err := s.partitions.ensure(ctx, agg.Build.Day); err != nil {
		return skerr.Wrap(err)
	}

	// The existence check and the insert are not atomic, so two concurrent
	// submissions of the same build can race past it. The (id, day) primary
	// key makes the loser's transaction fail rather than duplicate rows.
	var exists bool
	if err := s.db.QueryRow(ctx, statements[buildExists], agg.Build.ID).Scan(&exists); err != nil {
		return skerr.Wrapf(err, "Checking for existing build %q", agg.Build.ID)
	}
	if exists {
		sklog.Infof("Build %q already stored, skipping.", agg.Build.ID)
		s.duplicateBuilds.Inc(1)
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return skerr.Wrap(err)
	}
	if err := s.insertAggregate(ctx, tx, agg); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			sklog.Errorf("Rolling back insert of build %q: %s", agg.Build.ID, rbErr)
		}
		return skerr.Wrapf(err, "Inserting build %q", agg.Build.ID)
	}
	if err := tx.Commit(ctx); err != nil {
		return skerr.Wrapf(err, "Committing build %q", agg.Build.ID)
	}
	s.insertedBuilds.Inc(1)
	return nil
}

// insertAggregate writes every row of the aggregate inside the given
// transaction, parent row first.
func (s *SQLBuildStore) insertAggregate(ctx context.Context, tx pgx.Tx, agg *types.Aggregate) error {
	if err := insertBuildRow(ctx, tx, &agg.Build); err != nil {
		return skerr.Wrap(err)
	}
	if err := insertTargetRows(ctx, tx, agg.Targets); err != nil {
		return skerr.Wrap(err)
	}
	if err := insertStepRows(ctx, tx, agg.Steps); err != nil {
		return skerr.Wrap(err)
	}
	if err := insertNoticeRows(ctx, tx, sql.WarningsTable, agg.Warnings); err != nil {
		return skerr.Wrap(err)
	}
	if err := insertNoticeRows(ctx, tx, sql.ErrorsTable, agg.Errors); err != nil {
		return skerr.Wrap(err)
	}
	if err := insertNoticeRows(ctx, tx, sql.NotesTable, agg.Notes); err != nil {
		return skerr.Wrap(err)
	}
	if err := insertSwiftTimingRows(ctx, tx, sql.SwiftFunctionsTable, agg.SwiftFunctions); err != nil {
		return skerr.Wrap(err)
	}
	if err := insertSwiftTimingRows(ctx, tx, sql.SwiftTypeChecksTable, agg.SwiftTypeChecks); err != nil {
		return skerr.Wrap(err)
	}
	if err := insertHostRow(ctx, tx, agg.Host); err != nil {
		return skerr.Wrap(err)
	}
	if err := insertXcodeVersionRow(ctx, tx, agg.XcodeVersion); err != nil {
		return skerr.Wrap(err)
	}
	if err := insertMetadataRow(ctx, tx, agg.Metadata); err != nil {
		return skerr.Wrap(err)
	}
	return nil
}

func insertBuildRow(ctx context.Context, tx pgx.Tx, b *types.Build) error {
	const statement = `INSERT INTO builds (` + buildColumns + `) VALUES ` +
		`($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`
	_, err := tx.Exec(ctx, statement,
		b.ID, b.ProjectName, b.MachineName, b.Schema, b.StartedAt, b.EndedAt,
		b.CompilationEndedAt, b.StartTimestamp, b.EndTimestamp,
		b.CompilationTimestamp, b.DurationSeconds, b.CompilationSeconds,
		b.BuildStatus, b.WarningCount, b.ErrorCount, b.Category,
		b.CompiledCount, b.WasSuspended, b.Tag, b.UserID, b.UserID256, b.IsCI,
		b.Day)
	return skerr.Wrap(err)
}

func insertTargetRows(ctx context.Context, tx pgx.Tx, targets []types.Target) error {
	if len(targets) == 0 {
		return nil
	}
	const columns = `id, build_identifier, name, started_at, ended_at,
		start_timestamp, end_timestamp, duration, compilation_duration,
		fetched_from_cache, category, compiled_count, warning_count,
		error_count, day`
	const valuesPerRow = 15
	return util.ChunkIter(len(targets), insertChunkSize, func(startIdx, endIdx int) error {
		chunk := targets[startIdx:endIdx]
		arguments := make([]interface{}, 0, valuesPerRow*len(chunk))
		for _, t := range chunk {
			arguments = append(arguments, t.ID, t.BuildIdentifier, t.Name,
				t.StartedAt, t.EndedAt, t.StartTimestamp, t.EndTimestamp,
				t.DurationSeconds, t.CompilationSeconds, t.FetchedFromCache,
				t.Category, t.CompiledCount, t.WarningCount, t.ErrorCount,
				t.Day)
		}
		statement := fmt.Sprintf("INSERT INTO targets (%s) VALUES %s", columns,
			sqlutil.ValuesPlaceholders(valuesPerRow, len(chunk)))
		_, err := tx.Exec(ctx, statement, arguments...)
		return skerr.Wrap(err)
	})
}

func insertStepRows(ctx context.Context, tx pgx.Tx, steps []types.Step) error {
	if len(steps) == 0 {
		return nil
	}
	const columns = `id, build_identifier, target_identifier, title,
		signature, type, architecture, document_url, started_at, ended_at,
		start_timestamp, end_timestamp, duration, fetched_from_cache, day`
	const valuesPerRow = 15
	return util.ChunkIter(len(steps), insertChunkSize, func(startIdx, endIdx int) error {
		chunk := steps[startIdx:endIdx]
		arguments := make([]interface{}, 0, valuesPerRow*len(chunk))
		for _, st := range chunk {
			arguments = append(arguments, st.ID, st.BuildIdentifier,
				st.TargetIdentifier, st.Title, st.Signature, st.Type,
				st.Architecture, st.DocumentURL, st.StartedAt, st.EndedAt,
				st.StartTimestamp, st.EndTimestamp, st.DurationSeconds,
				st.FetchedFromCache, st.Day)
		}
		statement := fmt.Sprintf("INSERT INTO steps (%s) VALUES %s", columns,
			sqlutil.ValuesPlaceholders(valuesPerRow, len(chunk)))
		_, err := tx.Exec(ctx, statement, arguments...)
		return skerr.Wrap(err)
	})
}

func insertNoticeRows(ctx context.Context, tx pgx.Tx, table string, notices []types.BuildNotice) error {
	if len(notices) == 0 {
		return nil
	}
	const columns = `id, build_identifier, parent_identifier, parent_type,
		title, document_url, severity, starting_line, ending_line,
		starting_column, ending_column, detail, day`
	const valuesPerRow = 13
	return util.ChunkIter(len(notices), insertChunkSize, func(startIdx, endIdx int) error {
		chunk := notices[startIdx:endIdx]
		arguments := make([]interface{}, 0, valuesPerRow*len(chunk))
		for _, n := range chunk {
			arguments = append(arguments, n.ID, n.BuildIdentifier,
				n.ParentIdentifier, n.ParentType, n.Title, n.DocumentURL,
				n.Severity, n.StartingLine, n.EndingLine, n.StartingColumn,
				n.EndingColumn, n.Detail, n.Day)
		}
		statement := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table,
			columns, sqlutil.ValuesPlaceholders(valuesPerRow, len(chunk)))
		_, err := tx.Exec(ctx, statement, arguments...)
		return skerr.Wrap(err)
	})
}

func insertSwiftTimingRows(ctx context.Context, tx pgx.Tx, table string, timings []types.SwiftTiming) error {
	if len(timings) == 0 {
		return nil
	}
	const columns = `id, build_identifier, step_identifier, file,
		starting_line, starting_column, duration_ms, occurrences, day`
	const valuesPerRow = 9
	return util.ChunkIter(len(timings), insertChunkSize, func(startIdx, endIdx int) error {
		chunk := timings[startIdx:endIdx]
		arguments := make([]interface{}, 0, valuesPerRow*len(chunk))
		for _, t := range chunk {
			arguments = append(arguments, t.ID, t.BuildIdentifier,
				t.StepIdentifier, t.File, t.StartingLine, t.StartingColumn,
				t.DurationMS, t.Occurrences, t.Day)
		}
		statement := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table,
			columns, sqlutil.ValuesPlaceholders(valuesPerRow, len(chunk)))
		_, err := tx.Exec(ctx, statement, arguments...)
		return skerr.Wrap(err)
	})
}

func insertHostRow(ctx context.Context, tx pgx.Tx, host *types.BuildHost) error {
	if host == nil {
		return nil
	}
	const statement = `INSERT INTO hosts (id, build_identifier, host_os,
		host_architecture, host_model, host_os_family, host_os_version,
		cpu_model, cpu_count, cpu_speed_ghz, memory_total_mb, memory_free_mb,
		swap_total_mb, swap_free_mb, uptime_seconds, timezone_name,
		is_virtual, day) VALUES
		($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`
	_, err := tx.Exec(ctx, statement,
		host.ID, host.BuildIdentifier, host.HostOS, host.HostArchitecture,
		host.HostModel, host.HostOSFamily, host.HostOSVersion, host.CPUModel,
		host.CPUCount, host.CPUSpeedGHz, host.MemoryTotalMB,
		host.MemoryFreeMB, host.SwapTotalMB, host.SwapFreeMB,
		host.UptimeSeconds, host.TimezoneName, host.IsVirtual, host.Day)
	return skerr.Wrap(err)
}

func insertXcodeVersionRow(ctx context.Context, tx pgx.Tx, version *types.XcodeVersion) error {
	if version == nil {
		return nil
	}
	const statement = `INSERT INTO xcode_versions (id, build_identifier,
		version, build_number, day) VALUES ($1,$2,$3,$4,$5)`
	_, err := tx.Exec(ctx, statement,
		version.ID, version.BuildIdentifier, version.Version,
		version.BuildNumber, version.Day)
	return skerr.Wrap(err)
}

func insertMetadataRow(ctx context.Context, tx pgx.Tx, metadata *types.BuildMetadata) error {
	if metadata == nil {
		return nil
	}
	encoded, err := json.Marshal(metadata.Metadata)
	if err != nil {
		return skerr.Wrap(err)
	}
	const statement = `INSERT INTO metadata (id, build_identifier, metadata,
		day) VALUES ($1,$2,$3,$4)`
	_, err = tx.Exec(ctx, statement,
		metadata.ID, metadata.BuildIdentifier, encoded, metadata.Day)
	return skerr.Wrap(err)
}

func scanBuild(row pgx.Row) (*types.Build, error) {
	var b types.Build
	if err := row.Scan(&b.ID, &b.ProjectName, &b.MachineName, &b.Schema,
		&b.StartedAt, &b.EndedAt, &b.CompilationEndedAt, &b.StartTimestamp,
		&b.EndTimestamp, &b.CompilationTimestamp, &b.DurationSeconds,
		&b.CompilationSeconds, &b.BuildStatus, &b.WarningCount, &b.ErrorCount,
		&b.Category, &b.CompiledCount, &b.WasSuspended, &b.Tag, &b.UserID,
		&b.UserID256, &b.IsCI, &b.Day); err != nil {
		return nil, skerr.Wrap(err)
	}
	return &b, nil
}

// GetBuild implements store.Store.
func (s *SQLBuildStore) GetBuild(ctx context.Context, id string) (*types.Build, error) {
	b, err := scanBuild(s.db.QueryRow(ctx, statements[getBuild], id))
	if err != nil {
		return nil, skerr.Wrapf(err, "Getting build %q", id)
	}
	return b, nil
}

// ListBuilds implements store.Store.
func (s *SQLBuildStore) ListBuilds(ctx context.Context, projectName string, day time.Time) ([]*types.Build, error) {
	rows, err := s.db.Query(ctx, statements[listBuilds], projectName, types.DayOf(day))
	if err != nil {
		return nil, skerr.Wrapf(err, "Listing builds for %q", projectName)
	}
	defer rows.Close()
	ret := []*types.Build{}
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		ret = append(ret, b)
	}
	if err := rows.Err(); err != nil {
		return nil, skerr.Wrap(err)
	}
	return ret, nil
}

// BuildCountsPerDay implements store.Store.
func (s *SQLBuildStore) BuildCountsPerDay(ctx context.Context, from, to time.Time) ([]store.DayCount, error) {
	from = types.DayOf(from)
	to = types.DayOf(to)
	if to.Before(from) {
		return nil, skerr.Fmt("Invalid range: %s is after %s.", from, to)
	}
	rows, err := s.db.Query(ctx, statements[countsPerDay], from, to)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer rows.Close()
	counts := map[time.Time]int{}
	for rows.Next() {
		var day time.Time
		var count int
		if err := rows.Scan(&day, &count); err != nil {
			return nil, skerr.Wrap(err)
		}
		counts[types.DayOf(day)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, skerr.Wrap(err)
	}
	ret := []store.DayCount{}
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		ret = append(ret, store.DayCount{
			Day:   day,
			Count: counts[day],
		})
	}
	return ret, nil
}

// Confirm SQLBuildStore implements store.Store.
var _ store.Store = (*SQLBuildStore)(nil)
