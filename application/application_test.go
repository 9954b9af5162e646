package application

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/linechat/pkg/util/merr"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linechat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// chdir 切到临时目录，避免默认配置文件受仓库目录影响。
func chdir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestDefaultsWithoutConfigFile(t *testing.T) {
	chdir(t)
	t.Setenv(EnvConfigPath, "")

	app := New([]string{"server", "9000"})
	require.NoError(t, app.Init())
	assert.Equal(t, []string{"server", "9000"}, app.Args())

	cfg, err := app.ServerConfig()
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.MaxClients)
	assert.Equal(t, "general", cfg.DefaultChannel)
	assert.Equal(t, 512, cfg.ReadBufferSize)
	assert.Equal(t, 500*time.Millisecond, cfg.WriteTimeout)
	assert.Equal(t, time.Second, cfg.AcceptBackoffMax)

	ccfg, err := app.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "general", ccfg.Channel)
	assert.EqualValues(t, 3, ccfg.DialAttempts)
	assert.Equal(t, "", app.MetricsAddr())
	assert.NotNil(t, app.Logger("server"))
}

func TestConfigFlag(t *testing.T) {
	chdir(t)
	path := writeConfig(t, `
server:
  max-clients: 16
  default-channel: lobby
  write-timeout: 1s
client:
  channel: lobby
metrics:
  addr: 127.0.0.1:9100
logging:
  server:
    level: debug
`)

	for _, args := range [][]string{
		{"--config", path, "server", "9000"},
		{"server", "--config=" + path, "9000"},
	} {
		app := New(args)
		require.NoError(t, app.Init())
		assert.Equal(t, []string{"server", "9000"}, app.Args())

		cfg, err := app.ServerConfig()
		require.NoError(t, err)
		assert.Equal(t, 16, cfg.MaxClients)
		assert.Equal(t, "lobby", cfg.DefaultChannel)
		assert.Equal(t, time.Second, cfg.WriteTimeout)
		assert.Equal(t, 512, cfg.ReadBufferSize)

		ccfg, err := app.ClientConfig()
		require.NoError(t, err)
		assert.Equal(t, "lobby", ccfg.Channel)
		assert.Equal(t, "127.0.0.1:9100", app.MetricsAddr())
		assert.True(t, app.Logger("server").Core().Enabled(-1))
	}
}

func TestConfigFromEnv(t *testing.T) {
	chdir(t)
	path := writeConfig(t, "server:\n  max-clients: 4\n")
	t.Setenv(EnvConfigPath, path)
	t.Setenv("LINECHAT_SERVER_DEFAULT_CHANNEL", "ops")

	app := New([]string{"server", "9000"})
	require.NoError(t, app.Init())
	cfg, err := app.ServerConfig()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxClients)
	assert.Equal(t, "ops", cfg.DefaultChannel)
}

func TestExplicitConfigMustExist(t *testing.T) {
	chdir(t)
	app := New([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "server", "9000"})
	assert.Error(t, app.Init())

	app = New([]string{"server", "9000", "--config"})
	assert.ErrorIs(t, app.Init(), merr.ErrParameterMissing)
}

func TestInvalidValues(t *testing.T) {
	chdir(t)
	path := writeConfig(t, `
server:
  max-clients: 0
client:
  channel: ""
  dial-attempts: 0
`)
	app := New([]string{"--config", path})
	require.NoError(t, app.Init())

	_, err := app.ServerConfig()
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
	_, err = app.ClientConfig()
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
}
