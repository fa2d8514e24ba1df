package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListenAddrEnvOverride(t *testing.T) {
	t.Setenv("HIVE_ADDR", "127.0.0.1:9999")
	assert.Equal(t, "127.0.0.1:9999", ListenAddr())
}

func TestChatRetentionEnvOverride(t *testing.T) {
	t.Setenv("HIVE_CHAT_RETENTION", "250")
	assert.Equal(t, 250, ChatRetention())
}

func TestChatRetentionRejectsInvalidEnv(t *testing.T) {
	t.Setenv("HIVE_CHAT_RETENTION", "not-a-number")
	assert.Equal(t, defaultChatRetention, ChatRetention())

	t.Setenv("HIVE_CHAT_RETENTION", "-5")
	assert.Equal(t, defaultChatRetention, ChatRetention())
}

func TestAccomplishmentKeywordsDefault(t *testing.T) {
	t.Setenv("HIVE_ACCOMPLISHMENT_KEYWORDS", "")
	kws := AccomplishmentKeywords()
	assert.Contains(t, kws, "shipped")
	assert.Contains(t, kws, "✅")
}

func TestAccomplishmentKeywordsEnvOverride(t *testing.T) {
	t.Setenv("HIVE_ACCOMPLISHMENT_KEYWORDS", "merged, released , ")
	assert.Equal(t, []string{"merged", "released"}, AccomplishmentKeywords())
}
