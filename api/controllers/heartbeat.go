package controllers

import (
	"errors"
	"net/http"

	"github.com/angelmondragon/licensegate/api/responses"
	"github.com/angelmondragon/licensegate/api/validators"
	"github.com/angelmondragon/licensegate/internal/heartbeat"
	"github.com/angelmondragon/licensegate/pkg/logger"
)

const heartbeatServerError = "SERVER_ERROR"

type HeartbeatBody struct {
	Token string `json:"token" validate:"max=4096"`
}

type heartbeatResponse struct {
	Valid    bool   `json:"valid"`
	NewToken string `json:"newToken,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

var heartbeatStatus = map[heartbeat.Reason]int{
	heartbeat.ReasonMissingToken:       http.StatusBadRequest,
	heartbeat.ReasonInvalidToken:       http.StatusUnauthorized,
	heartbeat.ReasonTokenExpired:       http.StatusUnauthorized,
	heartbeat.ReasonLicenseNotFound:    http.StatusUnauthorized,
	heartbeat.ReasonLicenseDeactivated: http.StatusForbidden,
	heartbeat.ReasonLicenseExpired:     http.StatusForbidden,
	heartbeat.ReasonDeviceBlocked:      http.StatusForbidden,
}

// Heartbeat exchanges a live credential for a fresh one.
func Heartbeat(svc heartbeat.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var body HeartbeatBody
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			reason := rejectedBodyReason(body, err)
			responses.WriteJSON(w, heartbeatStatus[reason], heartbeatResponse{Reason: string(reason)})
			return
		}

		result, err := svc.Renew(ctx, body.Token)
		if err != nil {
			responses.LogError(ctx, logg, err)
			responses.WriteJSON(w, http.StatusInternalServerError, heartbeatResponse{Reason: heartbeatServerError})
			return
		}
		if !result.Valid() {
			responses.WriteJSON(w, heartbeatStatus[result.Reason], heartbeatResponse{Reason: string(result.Reason)})
			return
		}

		responses.WriteJSON(w, http.StatusOK, heartbeatResponse{Valid: true, NewToken: result.Credential})
	}
}

// rejectedBodyReason reports a token that arrived but cannot be used (oversized
// or cut off by the body limit) as INVALID_TOKEN; anything else is treated as
// no token at all.
func rejectedBodyReason(body HeartbeatBody, err error) heartbeat.Reason {
	var tooLarge *http.MaxBytesError
	if body.Token != "" || errors.As(err, &tooLarge) {
		return heartbeat.ReasonInvalidToken
	}
	return heartbeat.ReasonMissingToken
}
