package domain

import "github.com/google/uuid"

// DefaultStorefront is used when a request names no storefront.
const DefaultStorefront = "main"

// ActorType identifies who initiated an operation.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorAdmin  ActorType = "admin"
	ActorStripe ActorType = "stripe"
	ActorSystem ActorType = "system"
)

// RequestContext is passed explicitly into every core operation. The core
// never reads ambient per-request state.
type RequestContext struct {
	StorefrontKey string
	ActorType     ActorType
	ActorID       *uuid.UUID
	RequestID     string
}

// NewRequestContext builds a context, defaulting the storefront.
func NewRequestContext(storefront string, actorType ActorType, actorID *uuid.UUID, requestID string) RequestContext {
	if storefront == "" {
		storefront = DefaultStorefront
	}
	return RequestContext{StorefrontKey: storefront, ActorType: actorType, ActorID: actorID, RequestID: requestID}
}

// SystemContext is used by background jobs.
func SystemContext(storefront string) RequestContext {
	return NewRequestContext(storefront, ActorSystem, nil, "")
}

// ActorString renders the actor id for logs.
func (rc RequestContext) ActorString() string {
	if rc.ActorID == nil {
		return ""
	}
	return rc.ActorID.String()
}
