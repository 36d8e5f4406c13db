package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), "buildstats.json")
	require.NoError(t, os.WriteFile(filename, []byte(contents), 0644))
	return filename
}

func TestInstanceConfigFromFile_ValidLocalConfig_Success(t *testing.T) {
	filename := writeConfig(t, `{
		"data_store": {"connection_string": "postgresql://root@localhost:5432/buildstats?sslmode=disable"},
		"queue": {"type": "memory"},
		"file_store": {"type": "local", "dir": "/tmp/buildstats"},
		"async_enabled": true
	}`)
	c, err := InstanceConfigFromFile(filename)
	require.NoError(t, err)
	require.Equal(t, QueueTypeMemory, c.Queue.Type)
	require.True(t, c.AsyncEnabled)
}

func TestInstanceConfigFromFile_ValidPubSubConfig_Success(t *testing.T) {
	filename := writeConfig(t, `{
		"project": "my-project",
		"data_store": {"connection_string": "postgresql://root@localhost:5432/buildstats?sslmode=disable"},
		"queue": {"type": "pubsub", "topic": "buildstats-jobs", "subscription": "buildstats-jobs-sub"},
		"file_store": {"type": "gcs", "bucket": "buildstats-logs"}
	}`)
	c, err := InstanceConfigFromFile(filename)
	require.NoError(t, err)
	require.Equal(t, "buildstats-jobs", c.Queue.Topic)
	require.Equal(t, "buildstats-logs", c.FileStore.Bucket)
}

func TestInstanceConfigFromFile_UnknownField_ReturnsError(t *testing.T) {
	filename := writeConfig(t, `{
		"data_store": {"connection_string": "x"},
		"queue": {"type": "memory"},
		"file_store": {"type": "local", "dir": "/tmp"},
		"not_a_field": 1
	}`)
	_, err := InstanceConfigFromFile(filename)
	require.Error(t, err)
}

func TestValidate_Errors(t *testing.T) {
	test := func(name string, mutate func(c *InstanceConfig)) {
		t.Run(name, func(t *testing.T) {
			c := &InstanceConfig{
				Project: "my-project",
				DataStore: DataStoreConfig{
					ConnectionString: "postgresql://root@localhost:5432/buildstats",
				},
				Queue: QueueConfig{
					Type:         QueueTypePubSub,
					Topic:        "t",
					Subscription: "s",
				},
				FileStore: FileStoreConfig{
					Type:   FileStoreTypeGCS,
					Bucket: "b",
				},
			}
			require.NoError(t, c.Validate())
			mutate(c)
			require.Error(t, c.Validate())
		})
	}
	test("missing connection string", func(c *InstanceConfig) { c.DataStore.ConnectionString = "" })
	test("invalid queue type", func(c *InstanceConfig) { c.Queue.Type = "carrier-pigeon" })
	test("pubsub without project", func(c *InstanceConfig) { c.Project = "" })
	test("pubsub without topic", func(c *InstanceConfig) { c.Queue.Topic = "" })
	test("invalid file store type", func(c *InstanceConfig) { c.FileStore.Type = "tape" })
	test("gcs without bucket", func(c *InstanceConfig) { c.FileStore.Bucket = "" })
	test("local without dir", func(c *InstanceConfig) {
		c.FileStore.Type = FileStoreTypeLocal
		c.FileStore.Dir = ""
	})
}
