package controllers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/angelmondragon/licensegate/api/middleware"
	"github.com/angelmondragon/licensegate/api/responses"
	"github.com/angelmondragon/licensegate/api/validators"
	"github.com/angelmondragon/licensegate/internal/activation"
	"github.com/angelmondragon/licensegate/pkg/logger"
)

const maxUserAgentLen = 512

type ValidateBody struct {
	LicenseKey string         `json:"licenseKey" validate:"max=128"`
	HWID       string         `json:"hwid" validate:"max=256"`
	Action     string         `json:"action" validate:"max=64"`
	DeviceInfo map[string]any `json:"deviceInfo"`
}

type validateGranted struct {
	Success   bool       `json:"success"`
	User      string     `json:"user"`
	ExpiresAt *time.Time `json:"expiresAt"`
	Token     string     `json:"token"`
}

type validateRejected struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

var activationRejections = map[activation.Reason]struct {
	status  int
	message string
}{
	activation.ReasonMissingFields: {http.StatusBadRequest, "Missing required fields"},
	activation.ReasonInvalidKey:    {http.StatusUnauthorized, "Invalid license key"},
	activation.ReasonDeactivated:   {http.StatusForbidden, "License has been deactivated"},
	activation.ReasonExpired:       {http.StatusForbidden, "License has expired"},
	activation.ReasonBlockedDevice: {http.StatusForbidden, "This device has been blocked"},
	activation.ReasonDeviceLimit:   {http.StatusForbidden, "Device limit reached"},
}

// Validate activates a device against a license key and returns a session
// credential.
func Validate(svc activation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var body ValidateBody
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteJSON(w, http.StatusBadRequest, validateRejected{
				Error:   "Missing required fields",
				Code:    string(activation.ReasonMissingFields),
				Details: invalidBodyDetails(err),
			})
			return
		}
		if body.DeviceInfo == nil {
			body.DeviceInfo = map[string]any{}
		}

		result, err := svc.Activate(ctx, activation.Request{
			LicenseKey: body.LicenseKey,
			HWID:       body.HWID,
			Action:     body.Action,
			DeviceInfo: body.DeviceInfo,
			ClientIP:   middleware.ClientIP(r),
			UserAgent:  validators.SanitizeString(r.UserAgent(), maxUserAgentLen),
		})
		if err != nil {
			responses.LogError(ctx, logg, err)
			responses.WriteJSON(w, http.StatusInternalServerError, validateRejected{Error: "Server error"})
			return
		}

		if !result.Granted() {
			rejection := activationRejections[result.Reason]
			payload := validateRejected{Error: rejection.message, Code: string(result.Reason)}
			if result.Reason == activation.ReasonDeviceLimit {
				payload.Error = fmt.Sprintf("Device limit reached (%v)", result.Details["limit"])
				payload.Details = result.Details
			}
			responses.WriteJSON(w, rejection.status, payload)
			return
		}

		responses.WriteJSON(w, http.StatusOK, validateGranted{
			Success:   true,
			User:      result.UserName,
			ExpiresAt: result.LicenseExpiresAt,
			Token:     result.Credential,
		})
	}
}
