package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/ttrace/packet"
	"github.com/jnesss/ttrace/tags"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, packet.LayoutPacked, cfg.Layout)
	assert.Equal(t, tags.TagAll, cfg.Tags)
	assert.Equal(t, 1024, cfg.IdleStackSize)
	assert.True(t, cfg.SchedHaveParent)
	assert.Equal(t, 5*time.Second, cfg.SampleInterval)
}

func TestFromEnv(t *testing.T) {
	t.Setenv(KeyDataDir, "/tmp/tt")
	t.Setenv(KeyPacketLayout, "aligned")
	t.Setenv(KeyTags, "apps,lock")
	t.Setenv(KeyIdleStackSize, "2048")
	t.Setenv(KeySchedHaveParent, "false")
	t.Setenv(KeySampleInterval, "250ms")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/tt", cfg.DataDir)
	assert.Equal(t, packet.LayoutAligned, cfg.Codec().Layout)
	assert.Equal(t, tags.TagApps|tags.TagLock, cfg.Tags)
	assert.Equal(t, 2048, cfg.IdleStackSize)
	assert.False(t, cfg.SchedHaveParent)
	assert.Equal(t, 250*time.Millisecond, cfg.SampleInterval)
}

func TestInvalidValuesNameTheKey(t *testing.T) {
	cases := map[string]string{
		KeyPacketLayout:     "sparse",
		KeyTags:             "apps,bogus",
		KeyIdleStackSize:    "big",
		KeyNameCacheSize:    "-1",
		KeyTruncateMessages: "maybe",
		KeySampleInterval:   "0s",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}

	t.Run("empty name cache", func(t *testing.T) {
		t.Setenv(KeyNameCacheSize, "0")
		_, err := FromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), KeyNameCacheSize)
	})

	t.Run("unknown tag is typed", func(t *testing.T) {
		t.Setenv(KeyTags, "bogus")
		_, err := FromEnv()
		assert.ErrorIs(t, err, tags.ErrUnknownTag)
	})
}

func TestLoadEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TTRACE_LISTEN_ADDR=127.0.0.1:9999\nTTRACE_RULES_DIR=/etc/ttrace/rules\n"), 0644))
	// variables already present win over the file
	t.Setenv(KeyRulesDir, "mine")
	t.Cleanup(func() { os.Unsetenv(KeyListenAddr) })

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.ListenAddr)
	assert.Equal(t, "mine", cfg.RulesDir)
}
