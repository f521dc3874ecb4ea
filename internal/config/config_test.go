package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/fiscal-sync/internal/config"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 60*time.Second, cfg.SAT.PollInterval)
	assert.Equal(t, time.Hour, cfg.Zoho.RefreshAfter)
	assert.Equal(t, "normalized", cfg.Zoho.NamePolicy)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "Mongo")
	t.Setenv("SAT_POLL_INTERVAL", "5")
	t.Setenv("SAT_CHECK_OCSP", "true")
	t.Setenv("SAT_OCSP_ISSUER", "/etc/fiscal-sync/ac-sat.cer")
	t.Setenv("SYNC_CONCURRENCY", "not-a-number")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "mongo", cfg.Store.Backend)
	assert.Equal(t, 5*time.Second, cfg.SAT.PollInterval)
	assert.True(t, cfg.SAT.CheckOCSP)
	assert.Equal(t, "/etc/fiscal-sync/ac-sat.cer", cfg.SAT.OCSPIssuer)
	assert.True(t, cfg.SAT.OCSPSoftFail)
	assert.Equal(t, 4, cfg.Sync.Concurrency)
}

func TestFromEnv_Invalid(t *testing.T) {
	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "sqlite")
		_, err := config.FromEnv()
		require.Error(t, err)
	})
	t.Run("ocsp without issuer", func(t *testing.T) {
		t.Setenv("SAT_CHECK_OCSP", "true")
		_, err := config.FromEnv()
		require.Error(t, err)
	})
	t.Run("postgres without dsn", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "postgres")
		_, err := config.FromEnv()
		require.Error(t, err)
	})
}

const profilesYAML = `
taxpayers:
  - rfc: aaa010101aaa
    tenant: acme
    cer_path: certs/aaa.cer
    key_path: certs/aaa.key
    passphrase: secret
    daily_sync: true
    ledger:
      org_id: "123"
      refresh_token: r-1
  - rfc: BBB020202BBB
    cer_url: bbb/bbb.cer
    key_url: bbb/bbb.key
    tolerance_days: 2
`

func TestParseProfiles(t *testing.T) {
	p, err := config.ParseProfiles([]byte(profilesYAML))
	require.NoError(t, err)
	require.Len(t, p.Taxpayers, 2)

	acme, ok := p.Find("AAA010101AAA")
	require.True(t, ok)
	assert.Equal(t, "acme", acme.Tenant)
	assert.Equal(t, "secret", acme.Passphrase)
	assert.Equal(t, 5, acme.Tolerance())
	assert.True(t, acme.Ledger.Configured())

	bbb, ok := p.Find("bbb020202bbb")
	require.True(t, ok)
	assert.Equal(t, "BBB020202BBB", bbb.Tenant)
	assert.Equal(t, 2, bbb.Tolerance())

	daily := p.DailySync()
	require.Len(t, daily, 1)
	assert.Equal(t, "AAA010101AAA", daily[0].RFC)
}

func TestParseProfiles_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing rfc", "taxpayers:\n  - cer_path: a\n    key_path: b\n"},
		{"missing key", "taxpayers:\n  - rfc: X\n    cer_path: a\n"},
		{"duplicate", "taxpayers:\n  - {rfc: X, cer_path: a, key_path: b}\n  - {rfc: x, cer_path: a, key_path: b}\n"},
		{"not yaml", "taxpayers: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.ParseProfiles([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}
