package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestLog(t *testing.T) {
	buf := captureLog(t)

	Log(context.Background(), Event{
		Type:         EventCredentialRevoke,
		Actor:        "admin",
		GameID:       "g-1",
		CredentialID: "c-1",
		Details:      map[string]interface{}{"count": int64(2), "prefix": "gk_12345678"},
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "security", line["audit"])
	assert.Equal(t, "credential_revoke", line["event_type"])
	assert.Equal(t, "g-1", line["game_id"])
	assert.Equal(t, "c-1", line["credential_id"])
	assert.Equal(t, float64(2), line["count"])
	assert.Equal(t, "gk_12345678", line["prefix"])
}

func TestClientIP(t *testing.T) {
	t.Run("first forwarded hop", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		assert.Equal(t, "203.0.113.9", ClientIP(r))
	})

	t.Run("real ip header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Real-IP", "198.51.100.4")
		assert.Equal(t, "198.51.100.4", ClientIP(r))
	})

	t.Run("remote addr fallback", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "192.0.2.10:40100"
		assert.Equal(t, "192.0.2.10", ClientIP(r))
	})
}
