package config_test

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotakit/pkg/config"
)

type defaultsConfig struct {
	Addr     string        `env:"QK_TEST_ADDR" envDefault:":8080"`
	Retries  int           `env:"QK_TEST_RETRIES" envDefault:"3"`
	Enabled  bool          `env:"QK_TEST_ENABLED" envDefault:"true"`
	Interval time.Duration `env:"QK_TEST_INTERVAL" envDefault:"5s"`
}

type overrideConfig struct {
	Addr    string `env:"QK_TEST_OVERRIDE_ADDR" envDefault:":8080"`
	Retries int    `env:"QK_TEST_OVERRIDE_RETRIES" envDefault:"3"`
}

type cachedConfig struct {
	Value string `env:"QK_TEST_CACHED"`
}

type requiredConfig struct {
	Secret string `env:"QK_TEST_REQUIRED,required"`
}

type nestedConfig struct {
	DB struct {
		URL string `env:"QK_TEST_DB_URL" envDefault:"postgres://localhost/quotakit"`
	}
	Log struct {
		Level string `env:"QK_TEST_LOG_LEVEL" envDefault:"info"`
	}
}

func TestLoad_Defaults(t *testing.T) {
	var cfg defaultsConfig
	require.NoError(t, config.Load(&cfg))

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 3, cfg.Retries)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Interval)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("QK_TEST_OVERRIDE_ADDR", ":9090")
	t.Setenv("QK_TEST_OVERRIDE_RETRIES", "7")

	var cfg overrideConfig
	require.NoError(t, config.Load(&cfg))

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 7, cfg.Retries)
}

func TestLoad_NestedStructs(t *testing.T) {
	var cfg nestedConfig
	require.NoError(t, config.Load(&cfg))

	assert.Equal(t, "postgres://localhost/quotakit", cfg.DB.URL)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_CachesPerType(t *testing.T) {
	t.Setenv("QK_TEST_CACHED", "first")

	var first cachedConfig
	require.NoError(t, config.Load(&first))

	t.Setenv("QK_TEST_CACHED", "second")

	var second cachedConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, "first", second.Value)

	config.ResetCache()

	var third cachedConfig
	require.NoError(t, config.Load(&third))
	assert.Equal(t, "second", third.Value)
}

func TestLoad_Concurrent(t *testing.T) {
	t.Setenv("QK_TEST_ADDR", ":7000")
	config.ResetCache()

	var wg sync.WaitGroup
	results := make([]defaultsConfig, 20)
	for i := range results {
		wg.Go(func() {
			assert.NoError(t, config.Load(&results[i]))
		})
	}
	wg.Wait()

	for _, cfg := range results {
		assert.Equal(t, ":7000", cfg.Addr)
	}
	config.ResetCache()
}

func TestLoad_MissingRequired(t *testing.T) {
	require.NoError(t, os.Unsetenv("QK_TEST_REQUIRED"))

	var cfg requiredConfig
	assert.ErrorIs(t, config.Load(&cfg), config.ErrParsingConfig)

	// A failed parse is not cached.
	t.Setenv("QK_TEST_REQUIRED", "s3cr3t")
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "s3cr3t", cfg.Secret)
}

func TestLoad_NilPointer(t *testing.T) {
	var cfg *defaultsConfig
	assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
}
