package controllers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/licensegate/internal/activation"
	"github.com/angelmondragon/licensegate/internal/artifacts"
	"github.com/angelmondragon/licensegate/internal/heartbeat"
	pkgerrors "github.com/angelmondragon/licensegate/pkg/errors"
)

type stubActivation struct {
	result activation.Result
	err    error
	got    activation.Request
}

func (s *stubActivation) Activate(ctx context.Context, req activation.Request) (activation.Result, error) {
	s.got = req
	return s.result, s.err
}

type stubRenewer struct {
	result heartbeat.Result
	err    error
	got    string
}

func (s *stubRenewer) Renew(ctx context.Context, raw string) (heartbeat.Result, error) {
	s.got = raw
	return s.result, s.err
}

type stubFetcher struct {
	result artifacts.Result
	err    error
	got    artifacts.Request
}

func (s *stubFetcher) Fetch(ctx context.Context, req artifacts.Request) (artifacts.Result, error) {
	s.got = req
	return s.result, s.err
}

func serve(handler http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:5000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestValidateGranted(t *testing.T) {
	expires := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := &stubActivation{result: activation.Result{UserName: "Ada", LicenseExpiresAt: &expires, Credential: "tok"}}

	rec := serve(Validate(svc, nil), `{"licenseKey":"LG-1","hwid":"HW","action":"startup","extra":1}`, map[string]string{
		"User-Agent":      "client/2",
		"X-Forwarded-For": "203.0.113.5",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	body := decodeMap(t, rec)
	if body["success"] != true || body["user"] != "Ada" || body["token"] != "tok" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["expiresAt"] != "2027-01-01T00:00:00Z" {
		t.Fatalf("unexpected expiresAt %v", body["expiresAt"])
	}
	if svc.got.ClientIP != "203.0.113.5" || svc.got.UserAgent != "client/2" || svc.got.Action != "startup" {
		t.Fatalf("request not forwarded: %+v", svc.got)
	}
	if svc.got.DeviceInfo == nil {
		t.Fatalf("device info should default to an empty object")
	}
}

func TestValidateGrantedWithoutExpiry(t *testing.T) {
	svc := &stubActivation{result: activation.Result{UserName: "Ada", Credential: "tok"}}
	rec := serve(Validate(svc, nil), `{"licenseKey":"LG-1","hwid":"HW"}`, nil)

	body := decodeMap(t, rec)
	if v, ok := body["expiresAt"]; !ok || v != nil {
		t.Fatalf("expected explicit null expiresAt, got %v", body)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		reason  activation.Reason
		details map[string]any
		status  int
		message string
	}{
		{activation.ReasonMissingFields, nil, http.StatusBadRequest, "Missing required fields"},
		{activation.ReasonInvalidKey, nil, http.StatusUnauthorized, "Invalid license key"},
		{activation.ReasonDeactivated, nil, http.StatusForbidden, "License has been deactivated"},
		{activation.ReasonExpired, nil, http.StatusForbidden, "License has expired"},
		{activation.ReasonBlockedDevice, nil, http.StatusForbidden, "This device has been blocked"},
		{activation.ReasonDeviceLimit, map[string]any{"limit": 3, "count": int64(3)}, http.StatusForbidden, "Device limit reached (3)"},
	}
	for _, tc := range cases {
		t.Run(string(tc.reason), func(t *testing.T) {
			svc := &stubActivation{result: activation.Result{Reason: tc.reason, Details: tc.details}}
			rec := serve(Validate(svc, nil), `{"licenseKey":"LG-1","hwid":"HW"}`, nil)
			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, rec.Code)
			}
			body := decodeMap(t, rec)
			if body["success"] != false || body["error"] != tc.message || body["code"] != string(tc.reason) {
				t.Fatalf("unexpected body %v", body)
			}
			if _, leaked := body["token"]; leaked {
				t.Fatalf("rejection must not carry a token")
			}
		})
	}
}

func TestValidateMalformedBody(t *testing.T) {
	svc := &stubActivation{}
	rec := serve(Validate(svc, nil), `not json`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if body := decodeMap(t, rec); body["error"] != "Missing required fields" {
		t.Fatalf("unexpected body %v", body)
	}
	if svc.got.HWID != "" {
		t.Fatalf("service should not be called")
	}
}

func TestValidateServerError(t *testing.T) {
	svc := &stubActivation{err: pkgerrors.Wrap(pkgerrors.CodeInternal, errors.New("pq: connection refused"), "lookup license")}
	rec := serve(Validate(svc, nil), `{"licenseKey":"LG-1","hwid":"HW"}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
	body := decodeMap(t, rec)
	if body["error"] != "Server error" || body["success"] != false {
		t.Fatalf("unexpected body %v", body)
	}
	if strings.Contains(rec.Body.String(), "refused") {
		t.Fatalf("internal detail leaked: %s", rec.Body.String())
	}
}

func TestHeartbeatResponses(t *testing.T) {
	cases := []struct {
		name   string
		result heartbeat.Result
		err    error
		status int
		want   map[string]any
	}{
		{"valid", heartbeat.Result{Credential: "fresh"}, nil, http.StatusOK, map[string]any{"valid": true, "newToken": "fresh"}},
		{"missing", heartbeat.Result{Reason: heartbeat.ReasonMissingToken}, nil, http.StatusBadRequest, map[string]any{"valid": false, "reason": "MISSING_TOKEN"}},
		{"invalid", heartbeat.Result{Reason: heartbeat.ReasonInvalidToken}, nil, http.StatusUnauthorized, map[string]any{"valid": false, "reason": "INVALID_TOKEN"}},
		{"expired", heartbeat.Result{Reason: heartbeat.ReasonTokenExpired}, nil, http.StatusUnauthorized, map[string]any{"valid": false, "reason": "TOKEN_EXPIRED"}},
		{"not found", heartbeat.Result{Reason: heartbeat.ReasonLicenseNotFound}, nil, http.StatusUnauthorized, map[string]any{"valid": false, "reason": "LICENSE_NOT_FOUND"}},
		{"deactivated", heartbeat.Result{Reason: heartbeat.ReasonLicenseDeactivated}, nil, http.StatusForbidden, map[string]any{"valid": false, "reason": "LICENSE_DEACTIVATED"}},
		{"license expired", heartbeat.Result{Reason: heartbeat.ReasonLicenseExpired}, nil, http.StatusForbidden, map[string]any{"valid": false, "reason": "LICENSE_EXPIRED"}},
		{"blocked", heartbeat.Result{Reason: heartbeat.ReasonDeviceBlocked}, nil, http.StatusForbidden, map[string]any{"valid": false, "reason": "DEVICE_BLOCKED"}},
		{"server error", heartbeat.Result{}, errors.New("boom"), http.StatusInternalServerError, map[string]any{"valid": false, "reason": "SERVER_ERROR"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubRenewer{result: tc.result, err: tc.err}
			rec := serve(Heartbeat(svc, nil), `{"token":"abc"}`, nil)
			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, rec.Code)
			}
			got := decodeMap(t, rec)
			if len(got) != len(tc.want) {
				t.Fatalf("unexpected body %v", got)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Fatalf("field %s: expected %v got %v", k, v, got[k])
				}
			}
			if svc.got != "abc" {
				t.Fatalf("token not forwarded: %q", svc.got)
			}
		})
	}
}

func TestHeartbeatRejectedBodies(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
		reason string
	}{
		{"empty body", ``, http.StatusBadRequest, "MISSING_TOKEN"},
		{"malformed json", `{"token":`, http.StatusBadRequest, "MISSING_TOKEN"},
		{"oversized token", `{"token":"` + strings.Repeat("a", 4097) + `"}`, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"body over limit", `{"token":"` + strings.Repeat("a", 70<<10) + `"}`, http.StatusUnauthorized, "INVALID_TOKEN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubRenewer{}
			rec := serve(Heartbeat(svc, nil), tc.body, nil)
			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, rec.Code)
			}
			got := decodeMap(t, rec)
			if got["reason"] != tc.reason {
				t.Fatalf("expected reason %s got %v", tc.reason, got["reason"])
			}
			if got["valid"] != false {
				t.Fatalf("expected valid=false, got %v", got["valid"])
			}
			if svc.got != "" {
				t.Fatalf("renewer should not be called, got %q", svc.got)
			}
		})
	}
}

func TestGetCodeGranted(t *testing.T) {
	svc := &stubFetcher{result: artifacts.Result{Module: "core", Version: "2.0.0", Content: []byte("payload")}}
	rec := serve(GetCode(svc, nil), `{"token":"t","module":"core"}`, map[string]string{"X-Real-IP": "198.51.100.1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	body := decodeMap(t, rec)
	if body["success"] != true || body["version"] != "2.0.0" {
		t.Fatalf("unexpected body %v", body)
	}
	decoded, err := base64.StdEncoding.DecodeString(body["code"].(string))
	if err != nil || string(decoded) != "payload" {
		t.Fatalf("unexpected code %v (%v)", body["code"], err)
	}
	if svc.got.ClientIP != "198.51.100.1" || svc.got.UserAgent != "" {
		t.Fatalf("unexpected forwarded request %+v", svc.got)
	}
}

func TestGetCodeRejections(t *testing.T) {
	cases := []struct {
		reason  artifacts.Reason
		status  int
		message string
	}{
		{artifacts.ReasonMissingFields, http.StatusBadRequest, "Missing token or module"},
		{artifacts.ReasonInvalidToken, http.StatusUnauthorized, "Invalid token"},
		{artifacts.ReasonTokenExpired, http.StatusUnauthorized, "Token expired"},
		{artifacts.ReasonLicenseInvalid, http.StatusForbidden, "License invalid"},
		{artifacts.ReasonDeviceBlocked, http.StatusForbidden, "This device has been blocked"},
		{artifacts.ReasonArtifactNotFound, http.StatusNotFound, "Module not found"},
	}
	for _, tc := range cases {
		t.Run(string(tc.reason), func(t *testing.T) {
			svc := &stubFetcher{result: artifacts.Result{Reason: tc.reason}}
			rec := serve(GetCode(svc, nil), `{"token":"t","module":"core"}`, nil)
			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, rec.Code)
			}
			body := decodeMap(t, rec)
			if body["error"] != tc.message || body["code"] != string(tc.reason) {
				t.Fatalf("unexpected body %v", body)
			}
		})
	}
}

func TestGetCodeServerError(t *testing.T) {
	svc := &stubFetcher{err: errors.New("db timeout")}
	rec := serve(GetCode(svc, nil), `{"token":"t","module":"core"}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
	if body := decodeMap(t, rec); body["error"] != "Server error" {
		t.Fatalf("unexpected body %v", body)
	}
}
