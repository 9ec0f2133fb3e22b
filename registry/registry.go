// Package registry holds the set of capability tokens published by
// dispatched modules. The set only grows: there is no removal API, which is
// what lets the dispatcher re-evaluate dependency programs knowing a
// satisfied program can never become unsatisfied.
package registry

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Registry is a monotonic set of published GUID tokens. It is owned by the
// dispatcher; the depex evaluator only reads it. The zero value is not
// usable, use New.
type Registry struct {
	tokens map[uuid.UUID]struct{}
	order  []uuid.UUID
}

func New() *Registry {
	return &Registry{
		tokens: make(map[uuid.UUID]struct{}),
	}
}

// Publish adds a token to the registry. Re-publishing an already present
// token is a no-op. It reports whether the token was newly added.
func (r *Registry) Publish(token uuid.UUID) bool {
	if _, ok := r.tokens[token]; ok {
		return false
	}
	r.tokens[token] = struct{}{}
	r.order = append(r.order, token)

	return true
}

// Has reports whether a token has been published.
func (r *Registry) Has(token uuid.UUID) bool {
	_, ok := r.tokens[token]

	return ok
}

// Len returns the number of published tokens.
func (r *Registry) Len() int {
	return len(r.tokens)
}

// Tokens returns the published tokens in publication order.
func (r *Registry) Tokens() []uuid.UUID {
	return slices.Clone(r.order)
}

func (r *Registry) String() string {
	var sb strings.Builder
	for i, t := range r.order {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t.String())
	}

	return sb.String()
}
