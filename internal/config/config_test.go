package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"homeproject-backend/internal/config"
)

func setBaseEnv(t *testing.T) {
	t.Setenv("SUPABASE_JWT_SECRET", "test-secret")
	t.Setenv("ENVIRONMENT", "development")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, config.ProviderStub, cfg.PreviewProvider)
	assert.Equal(t, config.ProviderStub, cfg.PlanProvider)
	assert.Greater(t, cfg.PreviewStubDelay, cfg.PlanStubDelay)
	assert.Equal(t, 60*time.Second, cfg.SuggestionCacheTTL)
	assert.False(t, cfg.SinglePreviewPerProject)
}

func TestLoad_ParsesTypedValues(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MAX_BACKGROUND_JOBS", "4")
	t.Setenv("SINGLE_PREVIEW_PER_PROJECT", "true")
	t.Setenv("PLAN_STUB_DELAY", "10ms")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.MaxBackgroundJobs)
	assert.True(t, cfg.SinglePreviewPerProject)
	assert.Equal(t, 10*time.Millisecond, cfg.PlanStubDelay)
}

func TestValidate_ProductionRejectsOverrides(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"quota override", map[string]string{"FREE_QUOTA_OVERRIDE": "10"}},
		{"degraded mode", map[string]string{"ENTITLEMENT_DEGRADED_MODE": "true"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv("ENVIRONMENT", "production")
			t.Setenv("DATABASE_URL", "postgres://localhost/test")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}

func TestValidate_RemoteProviderNeedsCredentials(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PREVIEW_PROVIDER", "remote")

	_, err := config.Load()
	assert.ErrorContains(t, err, "PREVIEW_API_KEY")
}

func TestValidate_UnknownPlanProvider(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PLAN_PROVIDER", "oracle")

	_, err := config.Load()
	assert.Error(t, err)
}
