package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSONLevels(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	setup(&buf, false, true)
	log.Debug().Msg("hidden")
	log.Info().Str("pair_code", "AB12").Msg("pair code ready")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "pair code ready", entry["message"])
	assert.Equal(t, "AB12", entry["pair_code"])
	assert.Equal(t, "info", entry["level"])

	buf.Reset()
	setup(&buf, true, true)
	log.Debug().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestSetup_Console(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	setup(&buf, false, false)
	log.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "INF")
}
