package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestDefault_IsValid verifies the built-in configuration
// Given: The default config
// When: It is validated
// Then: It passes with one thread per GOMAXPROCS and 64KiB stacks
func TestDefault_IsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, runtime.GOMAXPROCS(0), cfg.Threads)
	assert.Equal(t, ByteSize(64<<10), cfg.StackSize)
	assert.Equal(t, "64 KiB", cfg.StackSize.String())
}

// TestLoad_YAML verifies YAML decoding on top of defaults
// Given: A YAML file setting threads, a human readable stack size and log options
// When: Load is called
// Then: Set fields are applied and unset ones keep their defaults
func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "greenrt.yaml", `
threads: 3
stack_size: 128KiB
log:
  level: debug
  format: json
metrics:
  enabled: true
  interval: 2s
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Threads)
	assert.Equal(t, ByteSize(128<<10), cfg.StackSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "greenrt", cfg.Metrics.Namespace)
	interval, err := cfg.Metrics.PollInterval()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, interval)
	assert.Equal(t, 64, cfg.StackCacheLimit)
}

// TestLoad_JSONNumericSize verifies JSON files and plain byte counts
// Given: A JSON file with a numeric stack size
// When: Load is called
// Then: The size is taken as bytes
func TestLoad_JSONNumericSize(t *testing.T) {
	path := writeFile(t, "greenrt.json", `{"threads": 2, "stack_size": 32768}`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, ByteSize(32768), cfg.StackSize)
}

// TestLoad_RejectsUnknownFields verifies strict decoding
// Given: A YAML file with a misspelled key
// When: Load is called
// Then: An error naming the file is returned
func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "bad.yml", "thread: 4\n")

	_, err := Load(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yml")
}

// TestFromEnv_Overrides verifies environment overrides
// Given: Environment values for threads, stack size and log level
// When: They are applied to the defaults
// Then: The config reflects them, and a malformed value is reported
func TestFromEnv_Overrides(t *testing.T) {
	env := map[string]string{
		EnvThreads:   "6",
		EnvStackSize: "1MiB",
		EnvLogLevel:  "error",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	cfg := Default()

	require.NoError(t, applyEnv(cfg, lookup))
	assert.Equal(t, 6, cfg.Threads)
	assert.Equal(t, ByteSize(1<<20), cfg.StackSize)
	assert.Equal(t, "error", cfg.Log.Level)

	env[EnvThreads] = "many"
	assert.ErrorContains(t, applyEnv(cfg, lookup), EnvThreads)
}

// TestFromEnv_ProcessEnvironment verifies FromEnv reads the real environment
// Given: GREENRT_THREADS set for the test
// When: FromEnv is called
// Then: The thread count is overridden
func TestFromEnv_ProcessEnvironment(t *testing.T) {
	t.Setenv(EnvThreads, "5")
	cfg := Default()

	require.NoError(t, FromEnv(cfg))
	assert.Equal(t, 5, cfg.Threads)
}

// TestValidate_ReportsEveryProblem verifies aggregated validation errors
// Given: A config with bad threads, stack size, log level and interval
// When: Validate is called
// Then: Every problem is mentioned
func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Threads = 0
	cfg.StackSize = 1024
	cfg.Log.Level = "chatty"
	cfg.Log.Format = "xml"
	cfg.Metrics.Interval = "soon"

	err := cfg.Validate()

	require.Error(t, err)
	for _, want := range []string{"threads", "stack_size", "log.level", "log.format", "metrics.interval"} {
		assert.Contains(t, err.Error(), want)
	}
}

// TestNormalize_FillsZeroValues verifies defaults for a zero config
// Given: A zero Config
// When: Normalize is called
// Then: The result validates
func TestNormalize_FillsZeroValues(t *testing.T) {
	var cfg Config
	cfg.Normalize()

	assert.NoError(t, cfg.Validate())
	assert.Positive(t, cfg.Offload.Workers)
}

// TestMarshal_RoundTrip verifies the YAML rendering used by the CLI
// Given: A modified default config
// When: It is marshalled and parsed back
// Then: The values survive
func TestMarshal_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Threads = 9
	cfg.StackSize = 256 << 10

	out, err := Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "256 KiB")

	back, err := Parse("effective.yaml", out)
	require.NoError(t, err)
	assert.Equal(t, 9, back.Threads)
	assert.Equal(t, ByteSize(256<<10), back.StackSize)
}

// TestWatch_ReloadsOnWrite verifies hot reload
// Given: A watched config file
// When: The file is rewritten with a new log level
// Then: onChange receives the new config
func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeFile(t, "greenrt.yaml", "log:\n  level: info\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zerolog.Nop(), func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))

	select {
	case c := <-changes:
		assert.Equal(t, "debug", c.Log.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
	cancel()
	assert.NoError(t, <-done)
}
