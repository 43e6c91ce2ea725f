package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActivation(t *testing.T) {
	cases := []struct {
		raw  string
		mode ActivationMode
	}{
		{"", ActivationOff},
		{"off", ActivationOff},
		{"followed", ActivationFollowed},
		{"nested", ActivationNested},
		{"train.py", ActivationScriptMatch},
		{"regex:train_.*", ActivationScriptRegex},
	}
	for _, c := range cases {
		a, err := ParseActivation(c.raw)
		require.NoError(t, err, c.raw)
		assert.Equal(t, c.mode, a.Mode, c.raw)
	}

	_, err := ParseActivation("regex:[unclosed")
	require.Error(t, err)
}

func TestActivationActive(t *testing.T) {
	followed, _ := ParseActivation("followed")
	assert.True(t, followed.Active(""))
	assert.False(t, followed.Inherits())

	nested, _ := ParseActivation("nested")
	assert.True(t, nested.Active("anything"))
	assert.True(t, nested.Inherits())

	literal, _ := ParseActivation("train.py")
	assert.True(t, literal.Active("/work/train.py"))
	assert.False(t, literal.Active("/work/eval.py"))

	re, _ := ParseActivation("regex:train_\\d+")
	assert.True(t, re.Active("/jobs/train_42"))
	assert.False(t, re.Active("/jobs/serve"))

	off, _ := ParseActivation("off")
	assert.False(t, off.Active("train.py"))
}

func TestFromEnvironDefaults(t *testing.T) {
	for _, k := range []string{"PROBING", "PROBING_PORT", "PROBING_LOGLEVEL",
		"PROBING_AUTH_TOKEN", "PROBING_AUTH_USERNAME", "PROBING_AUTH_REALM",
		"PROBING_MAX_REQUEST_SIZE", "PROBING_MAX_FILE_SIZE"} {
		t.Setenv(k, "")
	}
	env := FromEnviron()
	assert.Equal(t, ActivationOff, env.Activation.Mode)
	assert.Equal(t, 0, env.TCPPort)
	assert.Equal(t, "admin", env.AuthUsername)
	assert.Equal(t, "probing", env.AuthRealm)
	assert.Equal(t, int64(defaultMaxRequestSize), env.MaxRequestSize)
	assert.Equal(t, int64(defaultMaxFileSize), env.MaxFileSize)
}

func TestFromEnvironOverrides(t *testing.T) {
	t.Setenv("PROBING", "nested")
	t.Setenv("PROBING_PORT", "9700")
	t.Setenv("PROBING_AUTH_TOKEN", "s3cret")
	t.Setenv("PROBING_MAX_REQUEST_SIZE", "1024")

	env := FromEnviron()
	assert.Equal(t, ActivationNested, env.Activation.Mode)
	assert.Equal(t, 9700, env.TCPPort)
	assert.Equal(t, "s3cret", env.AuthToken)
	assert.Equal(t, int64(1024), env.MaxRequestSize)
}

func TestDiscoveryPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PROBING_DISCOVERY_DIR", dir)
	assert.Equal(t, dir, DiscoveryDir())
	assert.Equal(t, filepath.Join(dir, "42.sock"), SocketPath(42))
	assert.Equal(t, filepath.Join(dir, "42.json"), DiscoveryFilePath(42))
}
