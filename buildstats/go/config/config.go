// Package config holds the InstanceConfig that describes one running
// instance of the application.
package config

import (
	"encoding/json"
	"os"

	"go.buildstats.org/infra/go/skerr"
	"go.buildstats.org/infra/go/util"
)

// QueueType selects the job queue implementation.
type QueueType string

const (
	QueueTypePubSub QueueType = "pubsub"
	QueueTypeMemory QueueType = "memory"
)

// AllQueueTypes lists the valid QueueType values.
var AllQueueTypes = []string{string(QueueTypePubSub), string(QueueTypeMemory)}

// FileStoreType selects where raw logs are stored.
type FileStoreType string

const (
	FileStoreTypeGCS   FileStoreType = "gcs"
	FileStoreTypeLocal FileStoreType = "local"
)

// AllFileStoreTypes lists the valid FileStoreType values.
var AllFileStoreTypes = []string{string(FileStoreTypeGCS), string(FileStoreTypeLocal)}

// QueueConfig configures the job queue.
type QueueConfig struct {
	Type QueueType `json:"type"`

	// Topic and Subscription are required for the pubsub type.
	Topic        string `json:"topic,omitempty"`
	Subscription string `json:"subscription,omitempty"`
}

// FileStoreConfig configures raw log storage.
type FileStoreConfig struct {
	Type FileStoreType `json:"type"`

	// Bucket is required for the gcs type.
	Bucket string `json:"bucket,omitempty"`

	// Dir is required for the local type.
	Dir string `json:"dir,omitempty"`
}

// DataStoreConfig configures the SQL database.
type DataStoreConfig struct {
	// ConnectionString is a pgx connection string, e.g.
	// "postgresql://root@localhost:5432/buildstats?sslmode=disable".
	ConnectionString string `json:"connection_string"`
}

// InstanceConfig is the complete configuration of one instance, loaded from
// a JSON file at startup.
type InstanceConfig struct {
	// Project is the GCP project, required when any component uses a cloud
	// service.
	Project string `json:"project,omitempty"`

	DataStore DataStoreConfig `json:"data_store"`
	Queue     QueueConfig     `json:"queue"`
	FileStore FileStoreConfig `json:"file_store"`

	// AsyncEnabled turns on the asynchronous upload endpoint. When false,
	// PUT /v1/metrics answers 404 and only the synchronous endpoint works.
	AsyncEnabled bool `json:"async_enabled"`
}

// Validate returns an error describing the first problem found.
func (c *InstanceConfig) Validate() error {
	if c.DataStore.ConnectionString == "" {
		return skerr.Fmt("data_store.connection_string must be set.")
	}
	if !util.In(string(c.Queue.Type), AllQueueTypes) {
		return skerr.Fmt("Invalid queue type %q, must be one of %v.", c.Queue.Type, AllQueueTypes)
	}
	if c.Queue.Type == QueueTypePubSub {
		if c.Project == "" {
			return skerr.Fmt("project must be set for the pubsub queue.")
		}
		if c.Queue.Topic == "" || c.Queue.Subscription == "" {
			return skerr.Fmt("queue.topic and queue.subscription must be set for the pubsub queue.")
		}
	}
	if !util.In(string(c.FileStore.Type), AllFileStoreTypes) {
		return skerr.Fmt("Invalid file store type %q, must be one of %v.", c.FileStore.Type, AllFileStoreTypes)
	}
	if c.FileStore.Type == FileStoreTypeGCS && c.FileStore.Bucket == "" {
		return skerr.Fmt("file_store.bucket must be set for the gcs file store.")
	}
	if c.FileStore.Type == FileStoreTypeLocal && c.FileStore.Dir == "" {
		return skerr.Fmt("file_store.dir must be set for the local file store.")
	}
	return nil
}

// InstanceConfigFromFile loads and validates an InstanceConfig. Unknown
// fields are an error so typos in config files fail at startup.
func InstanceConfigFromFile(filename string) (*InstanceConfig, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, skerr.Wrapf(err, "Opening config file %q", filename)
	}
	defer util.Close(f)
	var ret InstanceConfig
	d := json.NewDecoder(f)
	d.DisallowUnknownFields()
	if err := d.Decode(&ret); err != nil {
		return nil, skerr.Wrapf(err, "Decoding config file %q", filename)
	}
	if err := ret.Validate(); err != nil {
		return nil, skerr.Wrapf(err, "Validating config file %q", filename)
	}
	return &ret, nil
}
