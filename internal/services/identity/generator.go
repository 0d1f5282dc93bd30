package identity

import (
	"fmt"
	"math/rand/v2"

	"veilchat/internal/domain"
)

// DefaultAttempts bounds how many names Generate draws before giving up.
const DefaultAttempts = 64

var adjectives = []string{
	"Silent", "Shadow", "Swift", "Mystic", "Phantom", "Stealth", "Dark",
	"Crimson", "Midnight", "Rogue", "Ghost", "Cyber", "Quantum", "Frost",
	"Hidden", "Enigma", "Covert", "Nebula", "Void", "Cipher", "Quiet",
}

var animals = []string{
	"Falcon", "Wolf", "Panther", "Raven", "Cobra", "Hawk", "Fox",
	"Eagle", "Tiger", "Shark", "Viper", "Lion", "Dragon", "Bear",
	"Owl", "Scorpion", "Lynx", "Jaguar", "Phoenix", "Mantis",
}

// RandomSource picks an integer in [0, n).
type RandomSource interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// DefaultSource draws from math/rand/v2's global generator. Names are a
// display convenience, not a credential, so they need no cryptographic
// randomness.
var DefaultSource RandomSource = globalSource{}

// Generate draws Adjective+Animal+NN names from src until one is not in use,
// giving up with domain.ErrIdentityExhausted after DefaultAttempts draws.
func Generate(src RandomSource, inUse func(domain.Identity) bool) (domain.Identity, error) {
	return generate(src, inUse, DefaultAttempts)
}

func generate(src RandomSource, inUse func(domain.Identity) bool, attempts int) (domain.Identity, error) {
	if src == nil {
		src = DefaultSource
	}
	for i := 0; i < attempts; i++ {
		id := domain.Identity(fmt.Sprintf("%s%s%02d",
			adjectives[src.IntN(len(adjectives))],
			animals[src.IntN(len(animals))],
			src.IntN(100),
		))
		if inUse == nil || !inUse(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", domain.ErrIdentityExhausted, attempts)
}
