package config

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func fullLines() Lines {
	l := Lines{Switch: intp(2), Green: intp(3), Yellow: intp(4)}
	for i := 0; i < 16; i++ {
		l.IO = append(l.IO, intp(5+i))
	}
	return l
}

func TestDecode(t *testing.T) {
	doc := `
transport: socket://192.168.1.20:5550
pins: pinctrl
api_port: 9090
enable_datadog: true
dd_tags: [layout:main]
lines:
  switch: 2
  green_led: 3
  yellow_led: 4
  io: [5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20]
`
	var cfg Config
	require.NoError(t, decode(strings.NewReader(doc), &cfg))
	assert.Equal(t, "socket://192.168.1.20:5550", cfg.Transport)
	assert.Equal(t, PinsPinctrl, cfg.Pins)
	assert.Equal(t, 9090, cfg.APIPort)
	assert.Equal(t, []string{"layout:main"}, cfg.DDTags)
	require.Len(t, cfg.Lines.IO, 16)
	assert.Equal(t, 20, *cfg.Lines.IO[15])
	assert.Equal(t, 115200, cfg.Baud)
	assert.Equal(t, "data/cbus-node.db", cfg.Store)

	cfg.validate()
}

func TestDecodeEmpty(t *testing.T) {
	var cfg Config
	require.NoError(t, decode(strings.NewReader(""), &cfg))
	assert.Equal(t, PinsSim, cfg.Pins)
	assert.Equal(t, 1, cfg.TickMillis)
	assert.Equal(t, "https://ntfy.sh", cfg.NtfyServer)
	assert.Empty(t, cfg.NtfyTopic)
	cfg.validate()
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, parseLogLevel("warn"))
	assert.Equal(t, zerolog.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("bogus"))
}

func TestValidate_LinesValid(t *testing.T) {
	cfg := Config{Pins: PinsPinctrl, Lines: fullLines()}
	cfg.validate() // should not panic
}

func TestValidate_LinesMissing(t *testing.T) {
	lines := fullLines()
	lines.Green = nil
	cfg := Config{Pins: PinsPinctrl, Lines: lines}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic due to missing line, but got none")
		}
		assert.Contains(t, r, "lines.green_led")
	}()

	cfg.validate()
}

func TestValidate_ShortIOList(t *testing.T) {
	lines := fullLines()
	lines.IO = lines.IO[:10]
	cfg := Config{Pins: PinsPinctrl, Lines: lines}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic due to missing io lines, but got none")
		}
	}()

	cfg.validate()
}

func TestValidate_LinesConflict(t *testing.T) {
	lines := fullLines()
	lines.Yellow = intp(5)
	cfg := Config{Pins: PinsPinctrl, Lines: lines}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic due to conflicting lines, but got none")
		}
	}()

	cfg.validate()
}

func TestValidate_UnknownBackend(t *testing.T) {
	cfg := Config{Pins: "sysfs"}
	assert.Panics(t, func() { cfg.validate() })
}

func TestValidate_SimSkipsLines(t *testing.T) {
	cfg := Config{Pins: PinsSim}
	assert.NotPanics(t, func() { cfg.validate() })
}
