package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuomag9/creator-connect/internal/config"
)

func TestRegistry(t *testing.T) {
	tiktok := NewTikTokClient(config.ProviderConfig{}, DefaultTikTokEndpoints, time.Second)
	registry := NewRegistry(tiktok)

	p, err := registry.Get("TikTok")
	require.NoError(t, err)
	assert.Equal(t, "tiktok", p.Name())

	_, err = registry.Get("instagram")
	require.ErrorIs(t, err, ErrUnknownProvider)

	assert.Equal(t, []string{"tiktok"}, registry.Names())
}
