package shutdown

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureExit(t *testing.T) *[]int {
	var codes []int
	orig := ExitFunc
	ExitFunc = func(code int) { codes = append(codes, code) }
	t.Cleanup(func() { ExitFunc = orig })
	return &codes
}

func TestExitCodes(t *testing.T) {
	codes := captureExit(t)
	Shutdown()
	ShutdownWithError(errors.New("boom"), "failed")
	Restart("NNRST")
	Boot()
	assert.Equal(t, []int{CodeShutdown, CodeError, CodeRestart, CodeBoot}, *codes)
}

func TestHooksRunOnceInReverse(t *testing.T) {
	captureExit(t)
	var order []string
	OnExit(func() { order = append(order, "store") })
	OnExit(func() { order = append(order, "pins") })
	Restart("test")
	Restart("again")
	assert.Equal(t, []string{"pins", "store"}, order)
}
