package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "jobd.db", cfg.DatabasePath)
	assert.Equal(t, ":5000", cfg.ListenAddr)
	assert.Equal(t, "python3", cfg.Interpreter)
	assert.Equal(t, time.Hour, cfg.ExecTimeout)
	assert.Equal(t, 5*time.Second, cfg.KillGrace)
}

func TestOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("exec_timeout", "30s")
	v.Set("interpreter", "/bin/sh")

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.ExecTimeout)
	assert.Equal(t, "/bin/sh", cfg.Interpreter)
}
