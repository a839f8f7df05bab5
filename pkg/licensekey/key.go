package licensekey

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	DefaultPrefix = "LG"
	keyBytes      = 15
	groupSize     = 4
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Generate returns a random key such as LG-ABCD-EFGH-IJKL-MNOP-QRST-UVWX.
func Generate(prefix string) (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate license key: %w", err)
	}
	s := encoding.EncodeToString(b)

	var parts []string
	if p := Normalize(prefix); p != "" {
		parts = append(parts, p)
	}
	for i := 0; i < len(s); i += groupSize {
		end := i + groupSize
		if end > len(s) {
			end = len(s)
		}
		parts = append(parts, s[i:end])
	}
	return strings.Join(parts, "-"), nil
}

// Normalize trims and upper-cases a presented key; lookups are
// case-insensitive on input.
func Normalize(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// Fingerprint is a keyed BLAKE2b-256 digest of the normalized key, safe to use
// in log fields and cache keys.
func Fingerprint(key string, secret []byte) string {
	if len(secret) > blake2b.Size {
		sum := blake2b.Sum256(secret)
		secret = sum[:]
	}
	h, err := blake2b.New256(secret)
	if err != nil {
		sum := blake2b.Sum256([]byte(Normalize(key)))
		return hex.EncodeToString(sum[:16])
	}
	h.Write([]byte(Normalize(key)))
	return hex.EncodeToString(h.Sum(nil)[:16])
}
