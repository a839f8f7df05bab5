package credential

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var signingMethod = jwt.SigningMethodHS256

type signedClaims struct {
	LicenseID string `json:"lid"`
	HWID      string `json:"hwid"`
	jwt.RegisteredClaims
}

// SignedCodec encodes credentials as HS256 JWTs. Expiry is carried in the
// token but judged by the caller's clock, not by the parser.
type SignedCodec struct {
	secret []byte
	issuer string
}

func NewSignedCodec(secret, issuer string) (*SignedCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("credential secret is required")
	}
	return &SignedCodec{secret: []byte(secret), issuer: issuer}, nil
}

func (s *SignedCodec) Encode(c Credential) (string, error) {
	if err := c.validate(); err != nil {
		return "", err
	}
	claims := signedClaims{
		LicenseID: c.LicenseID.String(),
		HWID:      c.HWID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   c.HWID,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing credential: %w", err)
	}
	return signed, nil
}

func (s *SignedCodec) Decode(raw string) (Credential, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Credential{}, malformed("empty credential", nil)
	}

	claims := &signedClaims{}
	parser := jwt.NewParser(
		jwt.WithoutClaimsValidation(),
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
	)
	_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != signingMethod {
			return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return Credential{}, malformed("invalid token", err)
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return Credential{}, malformed("issuer mismatch", fmt.Errorf("got %q", claims.Issuer))
	}
	if claims.ExpiresAt == nil {
		return Credential{}, malformed("missing expiry", nil)
	}
	licenseID, err := uuid.Parse(claims.LicenseID)
	if err != nil {
		return Credential{}, malformed("invalid license id", err)
	}

	cred := Credential{
		LicenseID: licenseID,
		HWID:      claims.HWID,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}
	if claims.IssuedAt != nil {
		cred.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if err := cred.validate(); err != nil {
		return Credential{}, err
	}
	return cred, nil
}
