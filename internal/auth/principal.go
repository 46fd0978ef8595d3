// Package auth turns a presented credential into the Principal that is acting
// on a request, and issues credentials at login.
//
// Resolution is a small state machine: a request starts Unauthenticated, is
// Resolving while a credential is checked, and ends either Authenticated with
// a Principal or Rejected with ErrInvalidCredential / ErrExpiredCredential.
// Requests that present no credential stay anonymous.
package auth

import (
	"context"

	"github.com/rohits-web03/enrollr/internal/models"
)

// Principal is the identity performing an operation.
type Principal struct {
	ID            uint
	Role          models.Role
	authenticated bool
}

// Anonymous is the principal of a request that presented no credential.
var Anonymous = Principal{}

func Authenticated(id uint, role models.Role) Principal {
	return Principal{ID: id, Role: role, authenticated: true}
}

func (p Principal) IsAuthenticated() bool {
	return p.authenticated
}

func (p Principal) IsAdmin() bool {
	return p.authenticated && p.Role == models.RoleAdmin
}

// ActorID is the value recorded in created_by / updated_by: the principal's
// id, or nil for anonymous self sign-up.
func (p Principal) ActorID() *uint {
	if !p.authenticated {
		return nil
	}
	id := p.ID
	return &id
}

// Resolver maps a raw credential to a Principal. An empty credential yields
// Anonymous.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (Principal, error)
}

// StubResolver treats every caller as anonymous.
type StubResolver struct{}

func (StubResolver) Resolve(context.Context, string) (Principal, error) {
	return Anonymous, nil
}
