package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	require.Equal(t, "fallback", getEnv("EMARGEMENT_TEST_UNSET", "fallback"))
	t.Setenv("EMARGEMENT_TEST_SET", "value")
	require.Equal(t, "value", getEnv("EMARGEMENT_TEST_SET", "fallback"))
}

func TestDurationEnv(t *testing.T) {
	require.Equal(t, 30*time.Minute, durationEnv("EMARGEMENT_TEST_UNSET", 30*time.Minute))
	t.Setenv("EMARGEMENT_TEST_DUR", "45m")
	require.Equal(t, 45*time.Minute, durationEnv("EMARGEMENT_TEST_DUR", 30*time.Minute))
	t.Setenv("EMARGEMENT_TEST_DUR", "not-a-duration")
	require.Equal(t, 30*time.Minute, durationEnv("EMARGEMENT_TEST_DUR", 30*time.Minute))
}

func TestBoolEnv(t *testing.T) {
	require.True(t, boolEnv("EMARGEMENT_TEST_UNSET", true))
	t.Setenv("EMARGEMENT_TEST_BOOL", "1")
	require.True(t, boolEnv("EMARGEMENT_TEST_BOOL", false))
	t.Setenv("EMARGEMENT_TEST_BOOL", "false")
	require.False(t, boolEnv("EMARGEMENT_TEST_BOOL", true))
	t.Setenv("EMARGEMENT_TEST_BOOL", "maybe")
	require.True(t, boolEnv("EMARGEMENT_TEST_BOOL", true))
}

func TestIntEnv(t *testing.T) {
	require.Equal(t, 120, intEnv("EMARGEMENT_TEST_UNSET", 120))
	t.Setenv("EMARGEMENT_TEST_INT", "42")
	require.Equal(t, 42, intEnv("EMARGEMENT_TEST_INT", 120))
	t.Setenv("EMARGEMENT_TEST_INT", "abc")
	require.Equal(t, 120, intEnv("EMARGEMENT_TEST_INT", 120))
}

func TestListEnv(t *testing.T) {
	require.Nil(t, listEnv("EMARGEMENT_TEST_UNSET", nil))
	t.Setenv("EMARGEMENT_TEST_LIST", "s1, s2,,s3 ")
	require.Equal(t, []string{"s1", "s2", "s3"}, listEnv("EMARGEMENT_TEST_LIST", nil))
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("TOKEN_TTL", "10m")
	t.Setenv("STORE_BACKEND", "memory")
	cfg := Load()
	require.Equal(t, "9090", cfg.HTTPPort)
	require.Equal(t, 10*time.Minute, cfg.TokenTTL)
	require.Equal(t, "memory", cfg.StoreBackend)
}
