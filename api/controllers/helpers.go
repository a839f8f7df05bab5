package controllers

import (
	"net/http"

	"github.com/angelmondragon/licensegate/api/responses"
	pkgerrors "github.com/angelmondragon/licensegate/pkg/errors"
	"github.com/angelmondragon/licensegate/pkg/types"
)

func invalidBodyDetails(err error) any {
	if typed := pkgerrors.As(err); typed != nil {
		if details, ok := typed.Details().(map[string]string); ok {
			return details
		}
	}
	return nil
}

// Preflight answers bare OPTIONS requests that the CORS middleware does not
// treat as preflights.
func Preflight() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

func MethodNotAllowed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", "POST, OPTIONS")
		meta := pkgerrors.MetadataFor(pkgerrors.CodeMethodInvalid)
		responses.WriteJSON(w, meta.HTTPStatus, types.ErrorBody{Error: meta.PublicMessage})
	}
}

func NotFound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteJSON(w, http.StatusNotFound, types.ErrorBody{Error: "Not found", Code: string(pkgerrors.CodeNotFound)})
	}
}
