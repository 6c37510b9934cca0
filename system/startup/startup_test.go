package startup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thatsimonsguy/cbus-node/internal/tick"
)

func TestFiresOnceAfterSettleTime(t *testing.T) {
	clock := tick.NewCounter()
	s := NewSequencer(clock)
	sods := 0
	sod := func() { sods++ }

	clock.Advance(SettleTime - 1)
	assert.False(t, s.Poll(0, true, sod))
	assert.False(t, s.Started())

	clock.Advance(1)
	assert.True(t, s.Poll(0, true, sod))
	assert.Equal(t, 1, sods)

	clock.Advance(tick.OneSecond)
	assert.False(t, s.Poll(0, true, sod))
	assert.Equal(t, 1, sods)
	assert.True(t, s.Started())
}

func TestExtraDelay(t *testing.T) {
	clock := tick.NewCounter()
	s := NewSequencer(clock)
	assert.Equal(t, tick.Tick(2500), Delay(5))

	clock.Advance(2499)
	assert.False(t, s.Poll(5, true, nil))
	clock.Advance(1)
	assert.True(t, s.Poll(5, true, nil))
}

func TestSilentStart(t *testing.T) {
	clock := tick.NewCounter()
	s := NewSequencer(clock)
	clock.Advance(SettleTime)
	called := false
	assert.True(t, s.Poll(0, false, func() { called = true }))
	assert.False(t, called)
}

func TestBootRelativeToCreation(t *testing.T) {
	clock := tick.NewCounter()
	clock.Advance(10 * tick.OneSecond)
	s := NewSequencer(clock)
	assert.False(t, s.Poll(0, true, nil))
	clock.Advance(SettleTime)
	assert.True(t, s.Poll(0, true, nil))
}

func TestInstallService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cbus-node.service")
	require.NoError(t, InstallService(path, "/usr/local/bin/cbus-node", "/etc/cbus-node.yaml", "cbus"))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "ExecStart=/usr/local/bin/cbus-node -config-file /etc/cbus-node.yaml")
	assert.Contains(t, string(b), "User=cbus")
}
