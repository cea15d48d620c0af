package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) (string, func()) {
	dir, err := ioutil.TempDir("", "fdbmem-config")
	require.Nil(t, err)
	path := filepath.Join(dir, name)
	require.Nil(t, ioutil.WriteFile(path, []byte(content), 0644))
	return path, func() { os.RemoveAll(dir) }
}

func TestDefaultsAreValid(t *testing.T) {
	assert.Nil(t, NewDefaultConfig().Validate())
	assert.Nil(t, NewTestConfig().Validate())

	c := NewDefaultConfig()
	assert.Equal(t, ByteSize(10000), c.KeySizeLimit)
	assert.Equal(t, ByteSize(100000), c.ValueSizeLimit)
	assert.False(t, c.Compaction.Enabled)
	assert.Equal(t, -1, c.RetryLimit)
}

func TestLoadTOML(t *testing.T) {
	path, cleanup := writeConfig(t, "fdbmem.toml", `
log-level = "debug"
value-size-limit = "50KB"
strict-range = true
retry-limit = 5
max-retry-delay = "250ms"
status-addr = "127.0.0.1:9000"

[compaction]
enabled = true
interval = "1s"
version-retention = 42
`)
	defer cleanup()

	c, err := Load(path)
	require.Nil(t, err)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, ByteSize(50000), c.ValueSizeLimit)
	assert.Equal(t, ByteSize(10000), c.KeySizeLimit)
	assert.True(t, c.StrictRange)
	assert.Equal(t, 5, c.RetryLimit)
	assert.Equal(t, 250*time.Millisecond, c.MaxRetryDelay.Duration)
	assert.Equal(t, "127.0.0.1:9000", c.StatusAddr)
	assert.True(t, c.Compaction.Enabled)
	assert.Equal(t, time.Second, c.Compaction.Interval.Duration)
	assert.Equal(t, uint64(42), c.Compaction.VersionRetention)
}

func TestLoadTOMLRejectsUnknownKeys(t *testing.T) {
	path, cleanup := writeConfig(t, "fdbmem.toml", `
retry-limt = 5
`)
	defer cleanup()

	_, err := Load(path)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "retry-limt")
}

func TestLoadYAML(t *testing.T) {
	path, cleanup := writeConfig(t, "fdbmem.yaml", `
key-size-limit: 1KB
transaction-size-limit: 2MB
max-retry-delay: 2s
compaction:
  enabled: true
  interval: 30s
log:
  level: warn
`)
	defer cleanup()

	c, err := Load(path)
	require.Nil(t, err)
	assert.Equal(t, ByteSize(1000), c.KeySizeLimit)
	assert.Equal(t, ByteSize(2000000), c.TransactionSizeLimit)
	assert.Equal(t, 2*time.Second, c.MaxRetryDelay.Duration)
	assert.Equal(t, 30*time.Second, c.Compaction.Interval.Duration)
	assert.Equal(t, "warn", c.Log.Level)
}

func TestValidate(t *testing.T) {
	c := NewTestConfig()
	c.KeySizeLimit = 0
	assert.NotNil(t, c.Validate())

	c = NewTestConfig()
	c.ValueSizeLimit = c.TransactionSizeLimit + 1
	assert.NotNil(t, c.Validate())

	c = NewTestConfig()
	c.RetryLimit = -2
	assert.NotNil(t, c.Validate())

	c = NewTestConfig()
	c.Compaction.Enabled = true
	c.Compaction.Interval = NewDuration(0)
	assert.NotNil(t, c.Validate())
}

func TestByteSize(t *testing.T) {
	var b ByteSize
	require.Nil(t, b.UnmarshalText([]byte("1.5MB")))
	assert.Equal(t, ByteSize(1500000), b)
	require.Nil(t, b.UnmarshalJSON([]byte(`"10kb"`)))
	assert.Equal(t, ByteSize(10000), b)
	require.Nil(t, b.UnmarshalJSON([]byte(`123`)))
	assert.Equal(t, ByteSize(123), b)
	assert.NotNil(t, b.UnmarshalText([]byte("lots")))

	data, err := ByteSize(10000).MarshalJSON()
	require.Nil(t, err)
	assert.Equal(t, `"10kB"`, string(data))
}
