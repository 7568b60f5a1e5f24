package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withCleanEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		original, existed := os.LookupEnv(key)
		os.Unsetenv(key)
		t.Cleanup(func() {
			if existed {
				os.Setenv(key, original)
			} else {
				os.Unsetenv(key)
			}
		})
	}
}

func TestLoad_DataDir_FromEnvVar(t *testing.T) {
	withCleanEnv(t, "SCANNER_DATA_DIR")

	tmpDir := t.TempDir()
	os.Setenv("SCANNER_DATA_DIR", tmpDir)

	cfg, err := Load()
	require.NoError(t, err)

	absPath, err := filepath.Abs(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, absPath, cfg.DataDir)
}

func TestLoad_DataDir_OverrideTakesPrecedence(t *testing.T) {
	withCleanEnv(t, "SCANNER_DATA_DIR")

	envDir := t.TempDir()
	overrideDir := t.TempDir()
	os.Setenv("SCANNER_DATA_DIR", envDir)

	cfg, err := Load(overrideDir)
	require.NoError(t, err)

	absOverride, err := filepath.Abs(overrideDir)
	require.NoError(t, err)
	assert.Equal(t, absOverride, cfg.DataDir)
}

func TestLoad_DataDir_CreatesDirectoryIfNeeded(t *testing.T) {
	withCleanEnv(t, "SCANNER_DATA_DIR")

	tmpDir := filepath.Join(t.TempDir(), "new-data-dir")
	os.Setenv("SCANNER_DATA_DIR", tmpDir)

	cfg, err := Load()
	require.NoError(t, err)

	info, err := os.Stat(cfg.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoad_LLMDefaults(t *testing.T) {
	withCleanEnv(t, "SCANNER_DATA_DIR", "LLM_HOST", "LLM_MODEL", "LLM_NUM_CTX", "LLM_TIMEOUT_SECONDS")
	os.Setenv("SCANNER_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:11434", cfg.LLMHost)
	assert.Equal(t, "llama3.1:8b", cfg.LLMModel)
	assert.Equal(t, 8192, cfg.LLMNumCtx)
	assert.Equal(t, 120, cfg.LLMTimeout)
}

func TestLoad_LLMHost_FromEnvVar(t *testing.T) {
	withCleanEnv(t, "SCANNER_DATA_DIR", "LLM_HOST")
	os.Setenv("SCANNER_DATA_DIR", t.TempDir())
	os.Setenv("LLM_HOST", "http://ollama.internal:11434")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://ollama.internal:11434", cfg.LLMHost)
}

func TestLoad_RateLimitDefaults(t *testing.T) {
	withCleanEnv(t, "SCANNER_DATA_DIR", "RATE_LIMIT_MAX_CONCURRENT", "RATE_LIMIT_MAX_RETRIES")
	os.Setenv("SCANNER_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.RateLimitMaxConcurrent)
	assert.Equal(t, 3, cfg.RateLimitMaxRetries)
}

func TestValidate_RejectsNonPositiveMaxConcurrent(t *testing.T) {
	cfg := &Config{RateLimitMaxConcurrent: 0, ScanDefaultTopN: 10}

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_LIMIT_MAX_CONCURRENT")
}

func TestValidate_RejectsNonPositiveTopN(t *testing.T) {
	cfg := &Config{RateLimitMaxConcurrent: 5, ScanDefaultTopN: 0}

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCAN_DEFAULT_TOP_N")
}
