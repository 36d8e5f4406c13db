// Package builders constructs the application's stores, file stores and
// queues from an InstanceConfig.
package builders

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"go.buildstats.org/infra/buildstats/go/config"
	"go.buildstats.org/infra/buildstats/go/filestore"
	"go.buildstats.org/infra/buildstats/go/filestore/gcs"
	"go.buildstats.org/infra/buildstats/go/filestore/local"
	"go.buildstats.org/infra/buildstats/go/joblog"
	"go.buildstats.org/infra/buildstats/go/joblog/sqljoblogstore"
	"go.buildstats.org/infra/buildstats/go/queue"
	"go.buildstats.org/infra/buildstats/go/queue/memory"
	"go.buildstats.org/infra/buildstats/go/queue/pubsubqueue"
	buildsql "go.buildstats.org/infra/buildstats/go/sql"
	"go.buildstats.org/infra/buildstats/go/store"
	"go.buildstats.org/infra/buildstats/go/store/sqlbuildstore"
	"go.buildstats.org/infra/go/skerr"
	"go.buildstats.org/infra/go/sklog"
	"go.buildstats.org/infra/go/sql/pool"
)

// maxPoolConnections bounds the database pool. The frontend and the workers
// run in the same process in local mode and share the singleton pool.
const maxPoolConnections = 24

var (
	singletonPoolMutex sync.Mutex
	singletonPool      pool.Pool
)

// pgxLogAdaptor routes pgx log output through sklog.
type pgxLogAdaptor struct{}

func (pgxLogAdaptor) Log(ctx context.Context, level pgx.LogLevel, msg string, data map[string]interface{}) {
	switch level {
	case pgx.LogLevelTrace, pgx.LogLevelDebug, pgx.LogLevelInfo:
	case pgx.LogLevelWarn:
		sklog.Warningf("pgx %s %v", msg, data)
	case pgx.LogLevelError:
		sklog.Errorf("pgx %s %v", msg, data)
	}
}

// NewDBPoolFromConfig opens the database pool described by the config. The
// pool is a process-wide singleton; every call after the first returns the
// same pool. If applySchema is true the schema is applied first, which is
// only appropriate in local mode and tests.
func NewDBPoolFromConfig(ctx context.Context, instanceConfig *config.InstanceConfig, applySchema bool) (pool.Pool, error) {
	singletonPoolMutex.Lock()
	defer singletonPoolMutex.Unlock()
	if singletonPool != nil {
		return singletonPool, nil
	}
	cfg, err := pgxpool.ParseConfig(instanceConfig.DataStore.ConnectionString)
	if err != nil {
		return nil, skerr.Wrapf(err, "Parsing connection string")
	}
	cfg.MaxConns = maxPoolConnections
	cfg.ConnConfig.Logger = pgxLogAdaptor{}
	rawPool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, skerr.Wrapf(err, "Connecting to the database")
	}
	if err := rawPool.Ping(ctx); err != nil {
		return nil, skerr.Wrapf(err, "Pinging the database")
	}
	if applySchema {
		if _, err := rawPool.Exec(ctx, buildsql.Schema); err != nil {
			return nil, skerr.Wrapf(err, "Applying the schema")
		}
	}
	singletonPool = rawPool
	return singletonPool, nil
}

// NewBuildStoreFromConfig returns the store.Store described by the config.
func NewBuildStoreFromConfig(ctx context.Context, instanceConfig *config.InstanceConfig, applySchema bool) (store.Store, error) {
	db, err := NewDBPoolFromConfig(ctx, instanceConfig, applySchema)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	ret, err := sqlbuildstore.New(db)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return ret, nil
}

// NewJobLogStoreFromConfig returns the joblog.Store described by the config.
func NewJobLogStoreFromConfig(ctx context.Context, instanceConfig *config.InstanceConfig, applySchema bool) (joblog.Store, error) {
	db, err := NewDBPoolFromConfig(ctx, instanceConfig, applySchema)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return sqljoblogstore.New(db), nil
}

// NewFileStoreFromConfig returns the filestore.Store described by the
// config.
func NewFileStoreFromConfig(ctx context.Context, instanceConfig *config.InstanceConfig) (filestore.Store, error) {
	switch instanceConfig.FileStore.Type {
	case config.FileStoreTypeGCS:
		ret, err := gcs.New(ctx, instanceConfig.FileStore.Bucket)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		return ret, nil
	case config.FileStoreTypeLocal:
		ret, err := local.New(instanceConfig.FileStore.Dir)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		return ret, nil
	}
	return nil, skerr.Fmt("Unknown file store type %q.", instanceConfig.FileStore.Type)
}

// NewQueueFromConfig returns the queue.Queue described by the config.
func NewQueueFromConfig(ctx context.Context, instanceConfig *config.InstanceConfig) (queue.Queue, error) {
	switch instanceConfig.Queue.Type {
	case config.QueueTypePubSub:
		ret, err := pubsubqueue.New(ctx, instanceConfig.Project, instanceConfig.Queue.Topic, instanceConfig.Queue.Subscription)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		return ret, nil
	case config.QueueTypeMemory:
		return memory.New(), nil
	}
	return nil, skerr.Fmt("Unknown queue type %q.", instanceConfig.Queue.Type)
}
