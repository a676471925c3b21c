package routingcache

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestFingerprintProperty_CaseAndWhitespaceInvariant verifies half of the
// testable property from spec §8 ("fingerprint changes under task
// normalization iff intent changes"): wrapping any non-blank task in extra
// whitespace and upper-casing it never changes the fingerprint, since that
// transformation does not change intent.
func TestFingerprintProperty_CaseAndWhitespaceInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("whitespace padding and case changes never change the fingerprint", prop.ForAll(
		func(task string) bool {
			if strings.TrimSpace(task) == "" {
				return true // degenerate: both normalize to the empty string
			}
			before := Fingerprint(task, []string{"tool_a", "tool_b"}, "r1", "c1")
			after := Fingerprint("  "+strings.ToUpper(task)+"  ", []string{"tool_b", "tool_a"}, "r1", "c1")
			return before == after
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
