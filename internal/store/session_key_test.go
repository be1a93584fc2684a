package store

import (
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestSessionKeyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	safe := func(s string) bool {
		for _, r := range s {
			ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			if !ok {
				return false
			}
		}
		return true
	}

	properties.Property("keys contain only safe characters, one per input rune", prop.ForAll(
		func(id string) bool {
			key := SessionKey(id)
			return safe(key) && utf8.RuneCountInString(key) == utf8.RuneCountInString(id)
		},
		gen.AnyString(),
	))

	properties.Property("sanitising is idempotent", prop.ForAll(
		func(id string) bool {
			key := SessionKey(id)
			return SessionKey(key) == key
		},
		gen.AnyString(),
	))

	properties.Property("alphanumeric ids are unchanged", prop.ForAll(
		func(id string) bool {
			return SessionKey(id) == id
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
