package handler

import (
	"net/http"
	"strings"

	"github.com/biddersweet/platform/internal/auth"
	"github.com/biddersweet/platform/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// StorefrontHeader selects the storefront a request is made on.
const StorefrontHeader = "X-Storefront-Key"

// RequestContextFrom builds the explicit per-request context handed to the
// core: storefront, authenticated actor and request id.
func RequestContextFrom(r *http.Request, defaultStorefront string) (domain.RequestContext, error) {
	storefront := strings.TrimSpace(r.Header.Get(StorefrontHeader))
	if storefront == "" {
		storefront = defaultStorefront
	}
	if err := domain.ValidateStorefrontKey(storefront); err != nil {
		return domain.RequestContext{}, domain.ErrValidation(err.Error())
	}
	actorType, actorID := auth.Actor(r.Context())
	return domain.NewRequestContext(storefront, actorType, actorID, GetRequestID(r.Context())), nil
}

// userIDFromContext returns the authenticated user's id.
func userIDFromContext(r *http.Request) (uuid.UUID, error) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		return uuid.Nil, domain.ErrUnauthorized("no auth context")
	}
	id, err := claims.SubjectID()
	if err != nil {
		return uuid.Nil, domain.ErrUnauthorized("invalid subject")
	}
	return id, nil
}

// PathUUID parses a chi URL parameter.
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, domain.ErrValidation("invalid " + name)
	}
	return id, nil
}
