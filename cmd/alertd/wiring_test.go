package main

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostalerts/internal/config"
)

func TestBuildBroadcastWarnsWhenDisabled(t *testing.T) {
	for _, transport := range []string{"", "none", "NONE"} {
		var buf bytes.Buffer
		b, err := buildBroadcast(config.BroadcastConfig{Transport: transport}, zerolog.New(&buf))
		require.NoError(t, err)
		assert.Nil(t, b)
		assert.Contains(t, buf.String(), `"level":"warn"`, transport)
		assert.Contains(t, buf.String(), "reach tenants only", transport)
	}
}

func TestBuildBroadcastWebhook(t *testing.T) {
	var buf bytes.Buffer
	b, err := buildBroadcast(config.BroadcastConfig{Transport: "webhook", WebhookURL: "http://127.0.0.1:1/hook"}, zerolog.New(&buf))
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.Empty(t, buf.String())
}

func TestBuildBroadcastUnknownTransport(t *testing.T) {
	_, err := buildBroadcast(config.BroadcastConfig{Transport: "carrier-pigeon"}, zerolog.Nop())
	assert.ErrorContains(t, err, `unsupported broadcast transport "carrier-pigeon"`)
}
