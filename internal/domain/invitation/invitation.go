// Package invitation issues and resolves the join references handed to teams.
package invitation

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/okian/huntline/internal/domain/model"
)

// Lookup finds the lane behind a stored reference.
type Lookup interface {
	Invitation(ctx context.Context, reference string) (model.Invitation, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, reference string) (model.Invitation, error)

// Invitation implements Lookup.
func (f LookupFunc) Invitation(ctx context.Context, reference string) (model.Invitation, error) {
	return f(ctx, reference)
}

// Issuer creates invitations at lane creation time and resolves them on join.
type Issuer struct {
	lookup  Lookup
	baseURL string
}

// Option applies a configuration option to the Issuer.
type Option func(*Issuer)

// WithBaseURL sets the public origin used by Link.
func WithBaseURL(base string) Option {
	return func(i *Issuer) {
		if base != "" {
			i.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// NewIssuer creates an Issuer resolving against lookup.
func NewIssuer(lookup Lookup, opts ...Option) *Issuer {
	i := &Issuer{lookup: lookup, baseURL: "http://localhost:9080"}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue returns a fresh invitation for laneID. The reference is random and
// unrelated to the lane id.
func (i *Issuer) Issue(laneID string) model.Invitation {
	return model.Invitation{Reference: uuid.NewString(), LaneID: laneID}
}

// Resolve maps a reference back to its lane id.
func (i *Issuer) Resolve(ctx context.Context, reference string) (string, error) {
	if _, err := uuid.Parse(reference); err != nil {
		return "", fmt.Errorf("resolve invitation %q: %w", reference, model.ErrNotFound)
	}
	inv, err := i.lookup.Invitation(ctx, reference)
	if err != nil {
		return "", fmt.Errorf("resolve invitation: %w", err)
	}
	return inv.LaneID, nil
}

// Link renders the landing URL for reference.
func (i *Issuer) Link(reference string) string {
	return i.baseURL + "/hunt/" + url.PathEscape(reference) + "/landing"
}
