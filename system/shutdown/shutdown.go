package shutdown

import (
	"os"

	"github.com/rs/zerolog/log"
)

// ExitFunc ends the process. Tests replace it.
var ExitFunc = os.Exit

// Exit codes seen by the supervisor. A restart is the host equivalent of a
// processor reset; a boot request hands over to the bootloader.
const (
	CodeShutdown = 0
	CodeError    = 1
	CodeRestart  = 3
	CodeBoot     = 4
)

// hooks run before exit, last registered first.
var hooks []func()

// OnExit registers f to run before the process exits, for example to
// release hardware or close the store.
func OnExit(f func()) {
	hooks = append(hooks, f)
}

func runHooks() {
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
	hooks = nil
}

func Shutdown() {
	runHooks()
	log.Info().Msg("Node stopped")
	ExitFunc(CodeShutdown)
}

func ShutdownWithError(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	runHooks()
	ExitFunc(CodeError)
}

// Restart asks the supervisor to start the node again.
func Restart(reason string) {
	log.Warn().Str("reason", reason).Msg("Restarting node")
	runHooks()
	ExitFunc(CodeRestart)
}

// Boot restarts into the bootloader. The boot flag must already be set.
func Boot() {
	log.Warn().Msg("Entering bootloader")
	runHooks()
	ExitFunc(CodeBoot)
}
