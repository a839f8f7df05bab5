package instance

import (
	"os"

	"github.com/angelmondragon/licensegate/pkg/env"
)

const fallbackID = "local"

// ID identifies this process in logs. LICENSEGATE_INSTANCE_ID wins, then the
// platform dyno name, then the hostname.
func ID() string {
	if id := env.First("", "LICENSEGATE_INSTANCE_ID", "DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
