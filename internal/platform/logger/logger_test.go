package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBuild_LevelFromEnvValue(t *testing.T) {
	var buf bytes.Buffer
	l := build("cadence-test", "warn", "production", &buf)
	assert.Equal(t, zerolog.WarnLevel, l.GetLevel())

	l.Info().Msg("suppressed")
	assert.Empty(t, buf.String())

	l.Warn().Msg("emitted")
	assert.Contains(t, buf.String(), "emitted")
	assert.Contains(t, buf.String(), "cadence-test")
}

func TestBuild_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := build("cadence-test", "shouting", "production", &buf)
	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())
}

// Production output stays structured JSON; everything else gets the console
// writer.
func TestBuild_ProductionOutputIsJSON(t *testing.T) {
	var buf bytes.Buffer
	l := build("cadence-test", "", "production", &buf)
	l.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"message":"hello"`)

	buf.Reset()
	l = build("cadence-test", "", "development", &buf)
	l.Info().Msg("hello")
	assert.NotContains(t, buf.String(), `"message":"hello"`)
	assert.Contains(t, buf.String(), "hello")
}
