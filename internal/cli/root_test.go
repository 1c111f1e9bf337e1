package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	assert.Equal(t, "durable", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
}

func TestRootCommandSubcommands(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"run", "resume", "inspect"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, "subcommand %s should exist", name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestRootCommandGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	for _, name := range []string{"store", "sqlite-path", "mysql-dsn", "codec", "metrics-addr"} {
		flag := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, flag, "flag %s should exist", name)
		assert.Empty(t, flag.DefValue, "flag %s should default to the environment", name)
	}
}

func TestRootCommandInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--format", "yaml", "inspect", "--execution", "x"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DURABLE_STORE", "mysql")
	t.Setenv("DURABLE_MYSQL_DSN", "user:pw@tcp(db:3306)/steps")
	t.Setenv("DURABLE_CODEC", "json")

	opts := &RootOptions{Store: "memory", Codec: "msgpack"}
	cfg, err := opts.loadConfig()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "msgpack", cfg.Codec)
	assert.Equal(t, "user:pw@tcp(db:3306)/steps", cfg.MySQLDSN, "unset flags keep the environment value")
}

func TestLoadConfigInvalid(t *testing.T) {
	opts := &RootOptions{Store: "redis"}
	_, err := opts.loadConfig()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "unknown store")
}
