package identity

import "veilchat/internal/domain"

// Allocator hands out identities for the registry.
type Allocator struct {
	src      RandomSource
	attempts int
}

// New returns an Allocator drawing from src (DefaultSource when nil).
func New(src RandomSource) *Allocator {
	if src == nil {
		src = DefaultSource
	}
	return &Allocator{src: src, attempts: DefaultAttempts}
}

// Allocate returns a name for which inUse reports false.
func (a *Allocator) Allocate(inUse func(domain.Identity) bool) (domain.Identity, error) {
	return generate(a.src, inUse, a.attempts)
}

// Compile-time assertion that Allocator implements domain.IdentityAllocator.
var _ domain.IdentityAllocator = (*Allocator)(nil)
