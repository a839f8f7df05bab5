package activation

import (
	"time"

	"github.com/google/uuid"
)

// Reason names why an activation was refused. The zero value means granted.
type Reason string

const (
	ReasonMissingFields Reason = "MISSING_FIELDS"
	ReasonInvalidKey    Reason = "INVALID_KEY"
	ReasonDeactivated   Reason = "DEACTIVATED"
	ReasonExpired       Reason = "EXPIRED"
	ReasonBlockedDevice Reason = "BLOCKED_DEVICE"
	ReasonDeviceLimit   Reason = "DEVICE_LIMIT"
)

// Request is an activation attempt. ClientIP and UserAgent only feed the
// usage trail.
type Request struct {
	LicenseKey string
	HWID       string
	Action     string
	DeviceInfo map[string]any
	ClientIP   string
	UserAgent  string
}

type Result struct {
	Reason Reason
	// Details is set for DEVICE_LIMIT: limit and count.
	Details map[string]any

	LicenseID           uuid.UUID
	UserName            string
	LicenseExpiresAt    *time.Time
	Credential          string
	CredentialExpiresAt time.Time
	NewDevice           bool
}

func (r Result) Granted() bool {
	return r.Reason == ""
}
