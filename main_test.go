package main

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(LoggingConfig{Level: "warn"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)

	assert.Equal(t, zerolog.InfoLevel, newLogger(LoggingConfig{Level: "loud"}, &buf).GetLevel())
}

func TestLogLifecycle(t *testing.T) {
	var buf bytes.Buffer
	log := logLifecycle(zerolog.New(&buf))

	log(Reconnecting{Attempt: 2})
	log(Disconnected{Reason: ReasonRetriesExhausted, Attempts: 5})
	log(Connected{})

	out := buf.String()
	assert.Contains(t, out, `"max":"unbounded"`)
	assert.Contains(t, out, `"reason":"retries-exhausted"`)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestSessionFactoryBuildsFreshSessions(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Password = "secret"
	factory := sessionFactory(cfg, zerolog.Nop())

	a, err := factory()
	require.NoError(t, err)
	b, err := factory()
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.IsType(t, &RCONSession{}, a)
}

func TestCRLFWriter(t *testing.T) {
	var buf bytes.Buffer
	n, err := crlfWriter{w: &buf}.Write([]byte("one\ntwo\n"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, "one\r\ntwo\r\n", buf.String())
}
