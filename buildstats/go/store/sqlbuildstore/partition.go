package sqlbuildstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jackc/pgconn"

	buildsql "go.buildstats.org/infra/buildstats/go/sql"
	"go.buildstats.org/infra/go/skerr"
	"go.buildstats.org/infra/go/sklog"
	"go.buildstats.org/infra/go/sql/pool"
)

// partitionCacheSize bounds the in-memory cache of partition names known to
// exist. With 11 logical tables this covers just over a week of distinct
// days, which is plenty since nearly all inserts land on the current day.
const partitionCacheSize = 100

// pgDuplicateTable is the SQLSTATE for "relation already exists". Two
// callers racing to create the same day's partition can both get past the
// existence check; the loser's CREATE fails with this code and must be
// treated as success.
const pgDuplicateTable = "42P07"

// partitionDDL abstracts the two DDL operations partition management needs,
// so the caching behavior can be tested without a database.
type partitionDDL interface {
	// tableExists returns true if a relation with the given name exists.
	tableExists(ctx context.Context, name string) (bool, error)

	// createPartition creates the partition of table holding the given day,
	// with create-if-not-exists semantics.
	createPartition(ctx context.Context, table string, day time.Time) error
}

// sqlPartitionDDL implements partitionDDL against a pool.Pool.
type sqlPartitionDDL struct {
	db pool.Pool
}

const tableExistsStatement = `
	SELECT
		EXISTS (
			SELECT 1 FROM pg_class WHERE relname = $1
		)`

func (s sqlPartitionDDL) tableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, tableExistsStatement, name).Scan(&exists); err != nil {
		return false, skerr.Wrapf(err, "Checking existence of %q", name)
	}
	return exists, nil
}

func (s sqlPartitionDDL) createPartition(ctx context.Context, table string, day time.Time) error {
	// The partition name and day are derived from internal values, never
	// user input, so building the DDL with Sprintf is safe.
	statement := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES IN ('%s')",
		buildsql.PartitionName(table, day), table, day.UTC().Format("2006-01-02"))
	if _, err := s.db.Exec(ctx, statement); err != nil {
		return skerr.Wrapf(err, "Creating partition of %q for %s", table, day.Format("2006-01-02"))
	}
	return nil
}

// partitionEnsurer makes sure the daily partition of every logical table
// exists before rows are inserted, caching confirmed partitions so repeat
// inserts for the same day skip the existence queries.
type partitionEnsurer struct {
	ddl partitionDDL

	// cache maps partition name -> true for partitions confirmed to exist.
	// Only confirmed existence is cached, so a false positive is impossible;
	// a cache miss just costs a redundant existence query.
	cache *lru.Cache
}

func newPartitionEnsurer(ddl partitionDDL) (*partitionEnsurer, error) {
	cache, err := lru.New(partitionCacheSize)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return &partitionEnsurer{
		ddl:   ddl,
		cache: cache,
	}, nil
}

// ensure creates any missing daily partitions for the given day across all
// partitioned tables. Safe under concurrent callers targeting the same day.
func (p *partitionEnsurer) ensure(ctx context.Context, day time.Time) error {
	for _, table := range buildsql.PartitionedTables {
		name := buildsql.PartitionName(table, day)
		if _, ok := p.cache.Get(name); ok {
			continue
		}
		exists, err := p.ddl.tableExists(ctx, name)
		if err != nil {
			return skerr.Wrap(err)
		}
		if !exists {
			if err := p.ddl.createPartition(ctx, table, day); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == pgDuplicateTable {
					sklog.Infof("Lost partition creation race for %q, continuing.", name)
				} else {
					return skerr.Wrap(err)
				}
			}
		}
		_ = p.cache.Add(name, true)
	}
	return nil
}
