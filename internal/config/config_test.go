package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultTemplateIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 80, cfg.Queue.UrgentPriority)
	require.Equal(t, 500.0, cfg.Queue.AdvisoryImpactThreshold)
	require.Equal(t, "heuristic", cfg.Advisory.Provider)
	require.Contains(t, cfg.Auth.Roles, "supervisor")
	require.Contains(t, cfg.Auth.Roles["supervisor"], "validation.decide")
	require.NotContains(t, cfg.Auth.Roles["bot"], "validation.decide")
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("queue:\n  urgent_priority: 90\nnotifications:\n  redis:\n    addr: localhost:6379\n"))
	require.NoError(t, err)
	require.Equal(t, 90, cfg.Queue.UrgentPriority)
	require.Equal(t, 20, cfg.Queue.PendingLimit)
	require.Equal(t, "localhost:6379", cfg.Notifications.Redis.Addr)
	require.Equal(t, "guardrails.events", cfg.Notifications.Redis.Channel)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"urgent out of range": "queue:\n  urgent_priority: 101\n",
		"unknown provider":    "advisory:\n  provider: oracle\n",
		"webhook without url": "notifications:\n  webhooks:\n    - events: [validation_decided]\n",
		"negative rate":       "server:\n  rate_limit:\n    rps: -1\n",
		"bad yaml":            "queue: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			require.Error(t, err)
		})
	}

	cfg := Default()
	delete(cfg.Auth.Roles, "supervisor")
	require.ErrorContains(t, cfg.Validate(), "supervisor")
}

func TestLoadOptionalFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	require.Equal(t, Default().Queue, cfg.Queue)

	_, err = Load(dir)
	require.ErrorContains(t, err, "gr config init")

	require.NoError(t, os.WriteFile(Path(dir), []byte("queue:\n  pending_limit: 5\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Queue.PendingLimit)
}
