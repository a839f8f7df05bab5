package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/licensegate/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleBody struct {
	Token  string `json:"token" validate:"max=16"`
	Module string `json:"module"`
}

func decode(t *testing.T, body string) (sampleBody, error) {
	t.Helper()
	var dest sampleBody
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	err := DecodeJSONBody(httptest.NewRecorder(), req, &dest)
	return dest, err
}

func TestDecodeJSONBodyAcceptsUnknownFields(t *testing.T) {
	got, err := decode(t, `{"token":"abc","module":"core","extra":true}`)
	require.NoError(t, err)
	assert.Equal(t, sampleBody{Token: "abc", Module: "core"}, got)
}

func TestDecodeJSONBodyRejectsMalformedJSON(t *testing.T) {
	_, err := decode(t, `{"token":`)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	_, err := decode(t, `{"token":"`+strings.Repeat("x", 17)+`"}`)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, map[string]string{"token": "must be at most 16"}, typed.Details())
}

func TestDecodeJSONBodyCapsSize(t *testing.T) {
	_, err := decode(t, `{"module":"`+strings.Repeat("x", MaxBodyBytes)+`"}`)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "abc", SanitizeString("  abc  ", 0))
	assert.Equal(t, "ab", SanitizeString("abc", 2))
}
