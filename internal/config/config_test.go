// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokohq/soko/internal/config"
	"github.com/sokohq/soko/pkg/errutil"
)

const secret = "0123456789abcdef0123456789abcdef"

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "soko.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(config.EnvDatabaseURL, "")
	t.Setenv(config.EnvTokenSecret, "")

	cfg, err := config.Load("", newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 3, cfg.Token.MaxActive)
	assert.Equal(t, 15*time.Minute, cfg.Verification.Lifetime)
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
	assert.Equal(t, config.MailerLog, cfg.Mailer.Kind)
	assert.Empty(t, cfg.Token.Secret)
}

func TestLoad_Precedence(t *testing.T) {
	t.Setenv(config.EnvTokenSecret, "")
	path := writeFile(t, strings.Join([]string{
		"http:",
		"  addr: \":9000\"",
		"log:",
		"  format: text",
		"token:",
		"  max_active: 5",
		"verification:",
		"  lifetime: 5m",
		"database:",
		"  url: postgres://file/soko",
	}, "\n"))

	t.Run("file overrides defaults", func(t *testing.T) {
		t.Setenv(config.EnvDatabaseURL, "")
		cfg, err := config.Load(path, newFlags(t))
		require.NoError(t, err)
		assert.Equal(t, ":9000", cfg.HTTP.Addr)
		assert.Equal(t, "text", cfg.Log.Format)
		assert.Equal(t, 5, cfg.Token.MaxActive)
		assert.Equal(t, 5*time.Minute, cfg.Verification.Lifetime)
		assert.Equal(t, "postgres://file/soko", cfg.Database.URL)
		assert.Equal(t, 10*time.Second, cfg.HTTP.ReadTimeout, "keys missing from the file keep flag defaults")
	})

	t.Run("changed flags override file", func(t *testing.T) {
		t.Setenv(config.EnvDatabaseURL, "")
		cfg, err := config.Load(path, newFlags(t, "--http-addr=:7000", "--max-active-tokens=0"))
		require.NoError(t, err)
		assert.Equal(t, ":7000", cfg.HTTP.Addr)
		assert.Equal(t, 0, cfg.Token.MaxActive)
		assert.Equal(t, "text", cfg.Log.Format)
	})

	t.Run("environment overrides everything", func(t *testing.T) {
		t.Setenv(config.EnvDatabaseURL, "postgres://env/soko")
		t.Setenv(config.EnvTokenSecret, secret)
		cfg, err := config.Load(path, newFlags(t, "--database-url=postgres://flag/soko"))
		require.NoError(t, err)
		assert.Equal(t, "postgres://env/soko", cfg.Database.URL)
		assert.Equal(t, secret, cfg.Token.Secret)
	})
}

func TestLoad_EnvironmentScope(t *testing.T) {
	t.Run("empty variables do not clear flag values", func(t *testing.T) {
		t.Setenv(config.EnvDatabaseURL, "")
		t.Setenv(config.EnvTokenSecret, "")
		cfg, err := config.Load("", newFlags(t, "--database-url=postgres://flag/soko"))
		require.NoError(t, err)
		assert.Equal(t, "postgres://flag/soko", cfg.Database.URL)
		assert.Empty(t, cfg.Token.Secret)
	})

	t.Run("unmapped variables are ignored", func(t *testing.T) {
		t.Setenv(config.EnvDatabaseURL, "")
		t.Setenv(config.EnvTokenSecret, "")
		t.Setenv("HTTP", "not-a-section")
		t.Setenv("SOKO_LOG_FORMAT", "text")
		cfg, err := config.Load("", newFlags(t))
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.HTTP.Addr)
		assert.Equal(t, "json", cfg.Log.Format)
	})
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), newFlags(t))
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}

func TestConfig_ValidateServe(t *testing.T) {
	valid := func(t *testing.T) *config.Config {
		t.Helper()
		t.Setenv(config.EnvDatabaseURL, "postgres://localhost/soko")
		t.Setenv(config.EnvTokenSecret, secret)
		cfg, err := config.Load("", newFlags(t))
		require.NoError(t, err)
		return cfg
	}

	require.NoError(t, valid(t).ValidateServe())

	tests := []struct {
		name   string
		mutate func(*config.Config)
		key    string
	}{
		{name: "missing database url", mutate: func(c *config.Config) { c.Database.URL = "" }, key: "database.url"},
		{name: "bad log format", mutate: func(c *config.Config) { c.Log.Format = "xml" }, key: "log.format"},
		{name: "short secret", mutate: func(c *config.Config) { c.Token.Secret = "short" }, key: "token.secret"},
		{name: "negative token limit", mutate: func(c *config.Config) { c.Token.MaxActive = -1 }, key: "token.max_active"},
		{name: "zero lifetime", mutate: func(c *config.Config) { c.Verification.Lifetime = 0 }, key: "verification.lifetime"},
		{name: "unknown mailer", mutate: func(c *config.Config) { c.Mailer.Kind = "smtp" }, key: "mailer.kind"},
		{name: "amqp without queue", mutate: func(c *config.Config) { c.Mailer.Kind = config.MailerAMQP; c.Mailer.Queue = "" }, key: "mailer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid(t)
			tt.mutate(cfg)
			err := cfg.ValidateServe()
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "key", tt.key)
		})
	}
}
