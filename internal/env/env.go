package env

import (
	"github.com/thatsimonsguy/cbus-node/internal/config"
)

// Cfg is the configuration the daemon was started with. It is nil in tests
// and tools that never call config.Load.
var Cfg *config.Config
