package licensekey

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateFormat(t *testing.T) {
	key, err := Generate("lg")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^LG(-[A-Z2-7]{4}){6}$`), key)
	assert.Equal(t, key, Normalize(key))

	other, err := Generate("lg")
	require.NoError(t, err)
	assert.NotEqual(t, key, other)

	bare, err := Generate("")
	require.NoError(t, err)
	assert.Len(t, strings.Split(bare, "-"), 6)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "ABC-123", Normalize("  abc-123\n"))
	assert.Equal(t, "", Normalize("   "))
}

func TestFingerprint(t *testing.T) {
	secret := []byte("pepper")
	a := Fingerprint("abc-123", secret)
	assert.Len(t, a, 32)
	assert.Equal(t, a, Fingerprint(" ABC-123 ", secret), "fingerprint is case-insensitive")
	assert.NotEqual(t, a, Fingerprint("abc-124", secret))
	assert.NotEqual(t, a, Fingerprint("abc-123", []byte("other")))
	assert.NotContains(t, a, "ABC")

	long := []byte(strings.Repeat("x", 100))
	assert.Len(t, Fingerprint("abc-123", long), 32)
	assert.Len(t, Fingerprint("abc-123", nil), 32)
}
