// Package credential mints and decodes the short-lived bearer credential a
// device presents after activation.
package credential

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/licensegate/pkg/config"
	"github.com/google/uuid"
)

// DefaultWindow is how long a freshly minted credential stays valid.
const DefaultWindow = time.Hour

// ErrMalformed is matched by every decode failure.
var ErrMalformed = errors.New("malformed credential")

// DecodeError describes why a raw credential could not be decoded.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrMalformed, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrMalformed, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrMalformed }

func malformed(reason string, err error) error {
	return &DecodeError{Reason: reason, Err: err}
}

// Credential binds a license and a hardware id for a bounded window. It is
// never persisted.
type Credential struct {
	LicenseID uuid.UUID
	HWID      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Mint builds a credential issued at now. A non-positive window falls back to
// DefaultWindow.
func Mint(licenseID uuid.UUID, hwid string, now time.Time, window time.Duration) Credential {
	if window <= 0 {
		window = DefaultWindow
	}
	return Credential{
		LicenseID: licenseID,
		HWID:      hwid,
		IssuedAt:  now,
		ExpiresAt: now.Add(window),
	}
}

// IsExpired reports whether now has reached the expiry instant.
func (c Credential) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

func (c Credential) validate() error {
	switch {
	case c.LicenseID == uuid.Nil:
		return malformed("missing license id", nil)
	case strings.TrimSpace(c.HWID) == "":
		return malformed("missing hwid", nil)
	case c.ExpiresAt.IsZero():
		return malformed("missing expiry", nil)
	}
	return nil
}

// Codec turns credentials into opaque strings and back.
type Codec interface {
	Encode(Credential) (string, error)
	Decode(raw string) (Credential, error)
}

// Issuer pairs a codec with the validity window used for every mint.
type Issuer struct {
	codec  Codec
	window time.Duration
}

func NewIssuer(codec Codec, window time.Duration) *Issuer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Issuer{codec: codec, window: window}
}

// New builds the issuer selected by configuration.
func New(cfg config.CredentialConfig) (*Issuer, error) {
	switch cfg.NormalizedMode() {
	case config.CredentialModeLegacy:
		return NewIssuer(LegacyCodec{}, cfg.Window), nil
	case config.CredentialModeSigned:
		codec, err := NewSignedCodec(cfg.Secret, cfg.Issuer)
		if err != nil {
			return nil, err
		}
		return NewIssuer(codec, cfg.Window), nil
	default:
		return nil, fmt.Errorf("unknown credential mode %q", cfg.Mode)
	}
}

// Issue mints and encodes a credential for (licenseID, hwid) issued at now.
func (i *Issuer) Issue(licenseID uuid.UUID, hwid string, now time.Time) (string, Credential, error) {
	cred := Mint(licenseID, hwid, now, i.window)
	raw, err := i.codec.Encode(cred)
	if err != nil {
		return "", Credential{}, err
	}
	return raw, cred, nil
}

func (i *Issuer) Decode(raw string) (Credential, error) {
	return i.codec.Decode(raw)
}

func (i *Issuer) Window() time.Duration { return i.window }
