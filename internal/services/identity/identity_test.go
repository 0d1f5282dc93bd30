package identity_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilchat/internal/domain"
	"veilchat/internal/services/identity"
)

// script replays fixed picks, wrapping around.
type script struct {
	picks []int
	i     int
}

func (s *script) IntN(n int) int {
	v := s.picks[s.i%len(s.picks)] % n
	s.i++
	return v
}

var namePattern = regexp.MustCompile(`^[A-Z][a-z]+[A-Z][a-z]+[0-9]{2}$`)

func TestGenerate_Format(t *testing.T) {
	for i := 0; i < 200; i++ {
		id, err := identity.Generate(nil, nil)
		require.NoError(t, err)
		assert.Regexp(t, namePattern, string(id))
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	// adjective 1 = Shadow, animal 2 = Panther, number 42
	id, err := identity.Generate(&script{picks: []int{1, 2, 42}}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("ShadowPanther42"), id)

	// adjective 20 = Quiet, animal 0 = Falcon, number 7 zero-padded
	id, err = identity.Generate(&script{picks: []int{20, 0, 7}}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("QuietFalcon07"), id)
}

func TestGenerate_RetriesOnCollision(t *testing.T) {
	src := &script{picks: []int{1, 2, 42, 20, 0, 7}}
	taken := map[domain.Identity]bool{"ShadowPanther42": true}

	id, err := identity.Generate(src, func(id domain.Identity) bool { return taken[id] })
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("QuietFalcon07"), id)
}

func TestGenerate_Exhausted(t *testing.T) {
	_, err := identity.Generate(&script{picks: []int{0}}, func(domain.Identity) bool { return true })
	assert.ErrorIs(t, err, domain.ErrIdentityExhausted)
}

func TestAllocator_ReusesFreedName(t *testing.T) {
	a := identity.New(&script{picks: []int{1, 2, 42}})
	live := map[domain.Identity]bool{}

	first, err := a.Allocate(func(id domain.Identity) bool { return live[id] })
	require.NoError(t, err)
	live[first] = true

	_, err = a.Allocate(func(id domain.Identity) bool { return live[id] })
	assert.ErrorIs(t, err, domain.ErrIdentityExhausted)

	delete(live, first)
	again, err := a.Allocate(func(id domain.Identity) bool { return live[id] })
	require.NoError(t, err)
	assert.Equal(t, first, again)
}
