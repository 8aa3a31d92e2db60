package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fileConfig = `
logging:
  level: debug
ledger:
  driver: sqlite
  path: /var/lib/positionscanner/ledger.db
scheduler:
  cronExpression: "30 7 * * MON-FRI"
  timezone: Europe/Helsinki
dispatch:
  workers: 3
  sendTimeout: 45s
notifications:
  channel: telegram
  telegram:
    botToken: file-token
subscribers:
  kind: yaml
  path: subs.yaml
sources:
  - name: tuni_fi
    label: University of Tampere
    kind: listing
    pages:
      - url: https://tuni.fi/jobs
    options:
      item: li.job
    target: [Doctoral Researcher]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	t.Setenv(configPathEnv, writeConfig(t, fileConfig))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format, "default kept")
	assert.Equal(t, "sqlite", cfg.Ledger.Driver)
	assert.Equal(t, 5*time.Second, cfg.Ledger.BusyTimeout, "default kept")
	assert.Equal(t, 3, cfg.Dispatch.Workers)
	assert.Equal(t, 4, cfg.Dispatch.FilterWorkers, "default kept")
	assert.Equal(t, 45*time.Second, cfg.Dispatch.SendTimeout)
	assert.Equal(t, "Europe/Helsinki", cfg.Scheduler.Location().String())
	require.Len(t, cfg.Sources, 1)

	src, ok := cfg.SourceByName("tuni_fi")
	require.True(t, ok)
	assert.Equal(t, []string{"Doctoral Researcher"}, src.Target)
	assert.Equal(t, "tuni_fi", src.TableName())
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv(configPathEnv, writeConfig(t, fileConfig))
	t.Setenv(telegramToken, "env-token")
	t.Setenv(ledgerDriverEnv, "file")
	t.Setenv(ledgerPathEnv, "/tmp/ledger.jsonl")
	t.Setenv(smtpPortEnv, "2525")
	t.Setenv(logLevelEnv, "warn")
	t.Setenv(logFormatEnv, "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Notifications.Telegram.BotToken)
	assert.Equal(t, "file", cfg.Ledger.Driver)
	assert.Equal(t, "/tmp/ledger.jsonl", cfg.Ledger.Path)
	assert.Equal(t, 2525, cfg.Notifications.Email.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadRejectsBadInput(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("bad port", func(t *testing.T) {
		t.Setenv(configPathEnv, writeConfig(t, fileConfig))
		t.Setenv(smtpPortEnv, "smtp")
		_, err := Load()
		assert.ErrorContains(t, err, smtpPortEnv)
	})
	t.Run("bad timezone", func(t *testing.T) {
		t.Setenv(configPathEnv, writeConfig(t, `
scheduler:
  timezone: Mars/Olympus
`))
		_, err := Load()
		assert.ErrorContains(t, err, "timezone")
	})
}

func TestDefaultsNeedDatabaseAndSMTP(t *testing.T) {
	t.Parallel()

	err := defaultConfig().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email needs host and from")
	assert.Contains(t, err.Error(), "source helsinki_fi: table sources need database.dsn")
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Ledger:        LedgerConfig{Driver: "mongo"},
		Notifications: NotificationConfig{Channel: "pigeon"},
		Subscribers:   SubscribersConfig{Kind: "csv"},
		Dispatch:      DispatchConfig{Workers: 0, FilterWorkers: 1, RatePerSec: -1},
		Sources: []SourceConfig{
			{Name: "a", Kind: SourceListing},
			{Name: "a", Kind: "rss"},
			{Kind: SourceTable},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown driver "mongo"`,
		`unknown channel "pigeon"`,
		`unknown kind "csv"`,
		"workers and filterWorkers",
		"ratePerSec",
		"listing sources need pages",
		"listing sources need options.item",
		`duplicate name "a"`,
		`unknown kind "rss"`,
		"sources[2]: name is required",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
