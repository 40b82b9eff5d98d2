package util

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDContext(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
	ctx := SetRequestID(context.Background(), "abc")
	assert.Equal(t, "abc", GetRequestID(ctx))
}

func TestRequestIDFrom(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	minted := RequestIDFrom(r)
	_, err := uuid.Parse(minted)
	require.NoError(t, err)

	inbound := uuid.New().String()
	r.Header.Set(RequestIDHeader, inbound)
	assert.Equal(t, inbound, RequestIDFrom(r))

	r.Header.Set(RequestIDHeader, "<script>")
	assert.NotEqual(t, "<script>", RequestIDFrom(r))
}

func TestSetLogOutput(t *testing.T) {
	var buf bytes.Buffer
	SetLogOutput(&buf, "warn")
	t.Cleanup(func() { SetLogOutput(&bytes.Buffer{}, "info") })

	Info().Msg("hidden")
	Warn().Str("hash", "abcDEF1").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, "pastebin", line["service"])
	assert.Equal(t, "abcDEF1", line["hash"])
}
