package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.True(t, cfg.Upstream.VerifyTLS)
	assert.Equal(t, []string{"composition", "growth", "instrument"}, cfg.BackendNames())
	assert.Equal(t, "/api/composition-arranger", cfg.Arranger[BackendComposition].Prefix)
	assert.Empty(t, cfg.Arranger[BackendComposition].API)
	assert.Equal(t, BackendComposition, cfg.Sets.Backend)
}

func TestLoadEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STAGE_ARRANGER_COMPOSITION_API", " https://composition.example.org ")
	t.Setenv("STAGE_ARRANGER_INSTRUMENT_PREFIX", "/api/instruments")
	t.Setenv("STAGE_UPSTREAM_VERIFY_TLS", "false")
	t.Setenv("STAGE_SERVER_SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("STAGE_SETS_BACKEND", "instrument")
	t.Setenv("STAGE_RATELIMIT_REQUESTS_PER_MINUTE", "600")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://composition.example.org", cfg.Arranger[BackendComposition].API)
	assert.Equal(t, "/api/composition-arranger", cfg.Arranger[BackendComposition].Prefix)
	assert.Equal(t, "/api/instruments", cfg.Arranger[BackendInstrument].Prefix)
	assert.False(t, cfg.Upstream.VerifyTLS)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, BackendInstrument, cfg.Sets.Backend)
	assert.Equal(t, 600, cfg.RateLimit.RequestsPerMinute)
}

func TestLoadFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	file := filepath.Join(dir, "stage.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  addr: ":8080"
arranger:
  composition:
    api: https://from-file.example.org
  variants:
    api: https://variants.example.org
log:
  level: debug
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("STAGE_ARRANGER_COMPOSITION_API=https://from-dotenv.example.org\n"), 0o600))

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "https://from-dotenv.example.org", cfg.Arranger[BackendComposition].API)
	assert.Equal(t, "https://variants.example.org", cfg.Arranger["variants"].API)
	assert.Equal(t, "/api/variants-arranger", cfg.Arranger["variants"].Prefix)
	assert.Equal(t, "debug", cfg.Log.Level)

	t.Setenv("STAGE_ARRANGER_COMPOSITION_API", "https://from-env.example.org")
	cfg, err = Load(file)
	require.NoError(t, err)
	assert.Equal(t, "https://from-env.example.org", cfg.Arranger[BackendComposition].API)
}

func TestLoadMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("does-not-exist.yaml")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg = Default()
	cfg.Arranger = nil
	require.ErrorIs(t, cfg.Validate(), ErrNoBackends)

	cfg = Default()
	cfg.Sets.Backend = "nope"
	require.ErrorIs(t, cfg.Validate(), ErrUnknownBackend)

	cfg = Default()
	cfg.Upstream.RetryAttempts = -1
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RateLimit.Burst = -1
	require.Error(t, cfg.Validate())
}
