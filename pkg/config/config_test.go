package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"orion-bridge/pkg/orion"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Orion.HostURL)
	assert.Equal(t, orion.DefaultPort, cfg.Orion.Port)
	assert.Equal(t, orion.DefaultTimeout, cfg.Orion.Timeout)
	assert.Equal(t, "", cfg.Orion.AuthMethod)
	assert.Equal(t, DefaultTokenURL, cfg.Orion.TokenURL)
	assert.Equal(t, 30*24*time.Hour, cfg.Relay.Retention)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orion.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
orion:
  host_url: https://orion1.example
  port: 443
  auth_method: fiware-token
  username: myuserid
  password: from-file
  token_url: https://orion1.example/token
  timeout: 5s
relay:
  port: 9000
`), 0o600))

	t.Setenv("FIWARE_PASSWORD", "from-env")
	t.Setenv("ORION_TIMEOUT", "30s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://orion1.example", cfg.Orion.HostURL)
	assert.Equal(t, 443, cfg.Orion.Port)
	assert.Equal(t, "fiware-token", cfg.Orion.AuthMethod)
	assert.Equal(t, "myuserid", cfg.Orion.Username)
	assert.Equal(t, "from-env", cfg.Orion.Password)
	assert.Equal(t, 30*time.Second, cfg.Orion.Timeout)
	assert.Equal(t, 9000, cfg.Relay.Port)
}

func TestLoad_UseTokenEnv(t *testing.T) {
	t.Setenv("ORION_HOST", "orion.lab.fiware.org")
	t.Setenv("ORION_USE_TOKEN", "true")
	t.Setenv("FIWARE_USERNAME", "u")
	t.Setenv("FIWARE_PASSWORD", "p")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, string(orion.AuthFIWAREToken), cfg.Orion.AuthMethod)

	oc := cfg.OrionConfig()
	assert.Equal(t, orion.AuthFIWAREToken, oc.AuthMethod)
	assert.Equal(t, "u", oc.Username)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("token without credentials", func(t *testing.T) {
		t.Setenv("ORION_USE_TOKEN", "1")
		_, err := Load("")
		assert.Error(t, err)
	})
	t.Run("bad port", func(t *testing.T) {
		t.Setenv("ORION_PORT", "abc")
		_, err := Load("")
		assert.Error(t, err)
	})
	t.Run("unknown auth method", func(t *testing.T) {
		t.Setenv("ORION_AUTH_METHOD", "request")
		_, err := Load("")
		assert.Error(t, err)
	})
	t.Run("negative retention", func(t *testing.T) {
		t.Setenv("RELAY_RETENTION", "-1h")
		_, err := Load("")
		assert.Error(t, err)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestCallbackBase(t *testing.T) {
	cfg := Default()

	cfg.Callback.Host = "relay.example:8000"
	assert.Equal(t, "http://relay.example:8000", cfg.CallbackBase())

	cfg.Callback.Debug = false
	assert.Equal(t, "https://relay.example:8000", cfg.CallbackBase())

	cfg.Callback.Host = "http://10.0.0.5:8000/"
	assert.Equal(t, "http://10.0.0.5:8000", cfg.CallbackBase())
	assert.Equal(t, "http://10.0.0.5:8000/fw/orion-notify/", cfg.CallbackURL())

	cfg.Callback.Host = ""
	cfg.Callback.Domain = "opentrack.example"
	assert.Equal(t, "https://opentrack.example", cfg.CallbackBase())

	cfg.Callback.Domain = "example.com"
	assert.Contains(t, cfg.CallbackBase(), ":8000")
}

func TestIsLocal(t *testing.T) {
	cfg := Default()
	for host, want := range map[string]bool{
		"192.168.0.10":         true,
		"http://127.0.0.1":     true,
		"localhost":            false,
		"orion.lab.fiware.org": false,
	} {
		cfg.Orion.HostURL = host
		assert.Equal(t, want, cfg.IsLocal(), host)
	}

	cfg.Orion.HostURL = "192.168.0.10"
	cfg.Orion.AuthMethod = string(orion.AuthFIWAREToken)
	assert.Equal(t, orion.AuthNone, cfg.OrionConfig().AuthMethod)
}
