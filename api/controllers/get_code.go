package controllers

import (
	"encoding/base64"
	"net/http"

	"github.com/angelmondragon/licensegate/api/middleware"
	"github.com/angelmondragon/licensegate/api/responses"
	"github.com/angelmondragon/licensegate/api/validators"
	"github.com/angelmondragon/licensegate/internal/artifacts"
	"github.com/angelmondragon/licensegate/pkg/logger"
	"github.com/angelmondragon/licensegate/pkg/types"
)

type GetCodeBody struct {
	Token  string `json:"token" validate:"max=4096"`
	Module string `json:"module" validate:"max=128"`
}

type getCodeResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Version string `json:"version"`
}

var fetchRejections = map[artifacts.Reason]struct {
	status  int
	message string
}{
	artifacts.ReasonMissingFields:    {http.StatusBadRequest, "Missing token or module"},
	artifacts.ReasonInvalidToken:     {http.StatusUnauthorized, "Invalid token"},
	artifacts.ReasonTokenExpired:     {http.StatusUnauthorized, "Token expired"},
	artifacts.ReasonLicenseInvalid:   {http.StatusForbidden, "License invalid"},
	artifacts.ReasonDeviceBlocked:    {http.StatusForbidden, "This device has been blocked"},
	artifacts.ReasonArtifactNotFound: {http.StatusNotFound, "Module not found"},
}

// GetCode releases the active version of a protected module. The content is
// base64 encoded on the wire.
func GetCode(svc artifacts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var body GetCodeBody
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteJSON(w, http.StatusBadRequest, types.ErrorBody{
				Error:   fetchRejections[artifacts.ReasonMissingFields].message,
				Code:    string(artifacts.ReasonMissingFields),
				Details: invalidBodyDetails(err),
			})
			return
		}

		result, err := svc.Fetch(ctx, artifacts.Request{
			Token:     body.Token,
			Module:    body.Module,
			ClientIP:  middleware.ClientIP(r),
			UserAgent: validators.SanitizeString(r.UserAgent(), maxUserAgentLen),
		})
		if err != nil {
			responses.LogError(ctx, logg, err)
			responses.WriteJSON(w, http.StatusInternalServerError, types.ErrorBody{Error: "Server error"})
			return
		}
		if !result.Granted() {
			rejection := fetchRejections[result.Reason]
			responses.WriteJSON(w, rejection.status, types.ErrorBody{Error: rejection.message, Code: string(result.Reason)})
			return
		}

		responses.WriteJSON(w, http.StatusOK, getCodeResponse{
			Success: true,
			Code:    base64.StdEncoding.EncodeToString(result.Content),
			Version: result.Version,
		})
	}
}
