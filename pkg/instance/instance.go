package instance

import (
	"os"

	"github.com/angelmondragon/marketplace-backend/pkg/env"
)

// ID names the running process in logs and lock ownership. It prefers the
// explicit MARKETPLACE_INSTANCE_ID, then the platform dyno name, then the host.
func ID() string {
	if id := env.First("", "MARKETPLACE_INSTANCE_ID", "DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
