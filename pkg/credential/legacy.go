package credential

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LegacyCodec is the wire format deployed clients already hold: base64 of a
// JSON object with millisecond epochs. Nothing binds the payload to the
// server, so anyone can forge one.
type LegacyCodec struct{}

type legacyPayload struct {
	LicenseID string `json:"lid"`
	HWID      string `json:"hwid"`
	IssuedAt  *int64 `json:"ts,omitempty"`
	ExpiresAt *int64 `json:"exp"`
}

func (LegacyCodec) Encode(c Credential) (string, error) {
	if err := c.validate(); err != nil {
		return "", err
	}
	ts := c.IssuedAt.UnixMilli()
	exp := c.ExpiresAt.UnixMilli()
	body, err := json.Marshal(legacyPayload{
		LicenseID: c.LicenseID.String(),
		HWID:      c.HWID,
		IssuedAt:  &ts,
		ExpiresAt: &exp,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(body), nil
}

func (LegacyCodec) Decode(raw string) (Credential, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Credential{}, malformed("empty credential", nil)
	}

	body, err := decodeBase64(raw)
	if err != nil {
		return Credential{}, malformed("invalid base64", err)
	}

	var payload legacyPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Credential{}, malformed("invalid json", err)
	}
	if payload.ExpiresAt == nil {
		return Credential{}, malformed("missing expiry", nil)
	}
	licenseID, err := uuid.Parse(payload.LicenseID)
	if err != nil {
		return Credential{}, malformed("invalid license id", err)
	}

	cred := Credential{
		LicenseID: licenseID,
		HWID:      payload.HWID,
		ExpiresAt: time.UnixMilli(*payload.ExpiresAt).UTC(),
	}
	if payload.IssuedAt != nil {
		cred.IssuedAt = time.UnixMilli(*payload.IssuedAt).UTC()
	}
	if err := cred.validate(); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

// decodeBase64 accepts padded and unpadded, standard and URL alphabets.
func decodeBase64(raw string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		body, err := enc.DecodeString(raw)
		if err == nil {
			return body, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
