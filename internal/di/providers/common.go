package providers

import "time"

const (
	// shutdownTimeout is the maximum time to wait for graceful shutdown of services.
	shutdownTimeout = 30 * time.Second
)

// Version is the server version, set at build time with
// -ldflags "-X github.com/grimoireapp/grimoire-server/internal/di/providers.Version=...".
var Version = "dev"
