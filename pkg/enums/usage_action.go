package enums

import (
	"fmt"
	"strings"
)

// UsageAction tags a usage_logs row. Activation rejections reuse their
// rejection code as the action.
type UsageAction string

const (
	UsageActionValidate   UsageAction = "VALIDATE"
	UsageActionLoadModule UsageAction = "LOAD_MODULE"

	UsageActionInvalidKey    UsageAction = "INVALID_KEY"
	UsageActionDeactivated   UsageAction = "DEACTIVATED"
	UsageActionExpired       UsageAction = "EXPIRED"
	UsageActionBlockedDevice UsageAction = "BLOCKED_DEVICE"
	UsageActionDeviceLimit   UsageAction = "DEVICE_LIMIT"
)

const maxUsageActionLen = 64

// String implements fmt.Stringer.
func (a UsageAction) String() string {
	return string(a)
}

// ParseUsageAction normalizes a caller-supplied action. Blank input yields
// VALIDATE; any other value is upper-cased and kept so clients can tag their
// own activation flavours.
func ParseUsageAction(value string) (UsageAction, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(value))
	if trimmed == "" {
		return UsageActionValidate, nil
	}
	if len(trimmed) > maxUsageActionLen {
		return "", fmt.Errorf("usage action longer than %d characters", maxUsageActionLen)
	}
	return UsageAction(trimmed), nil
}
