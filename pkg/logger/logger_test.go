package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithVendorID(ctx, "vendor-1")

	log.Error(ctx, "boom", errors.New("boom"))

	out := buf.String()
	require.Contains(t, out, `"request_id":"req-123"`)
	require.Contains(t, out, `"vendor_id":"vendor-1"`)
	require.Contains(t, out, `"stack"`)
}

func TestLoggerRedactsSensitiveFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	ctx := log.WithFields(context.Background(), map[string]any{
		"Authorization": "Bearer abc",
		"route":         "/wallets/unlock",
	})
	ctx = log.WithField(ctx, "idempotency_key", "k-1")
	log.Info(ctx, "redacted")

	out := buf.String()
	require.NotContains(t, out, "Bearer abc")
	require.NotContains(t, out, "k-1")
	require.Contains(t, out, `"route":"/wallets/unlock"`)
	require.Contains(t, out, `"idempotency_key":"[redacted]"`)
}

func TestLoggerActorAndAmount(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	ctx := log.WithActor(context.Background(), "user-1", "admin")
	ctx = log.WithAmount(ctx, 12345)
	log.Info(ctx, "payout")

	out := buf.String()
	require.Contains(t, out, `"user_id":"user-1"`)
	require.Contains(t, out, `"actor_role":"admin"`)
	require.Contains(t, out, `"amount_cents":12345`)
	require.Contains(t, out, `"amount":"123.45"`)
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf, WarnStack: true})
	log.Warn(context.Background(), "warny")
	require.Contains(t, buf.String(), `"stack"`)

	buf.Reset()
	quiet := New(Options{ServiceName: "test", Output: buf})
	quiet.Warn(context.Background(), "warny")
	require.NotContains(t, buf.String(), `"stack"`)
}

func TestLoggerRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: zerolog.WarnLevel, Output: buf})
	log.Info(context.Background(), "hidden")
	require.Zero(t, buf.Len())
}

func TestParseLevelDefaults(t *testing.T) {
	require.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	require.Equal(t, zerolog.InfoLevel, ParseLevel("invalid"))
	require.Equal(t, zerolog.DebugLevel, ParseLevel(" DEBUG "))
}
