// Package supervisor implements the five-phase Supervisor State Machine
// (spec §4.1): Analysis → Routing → Execution → Progress → Quality, plus the
// fast-path bypass, cancellation, HITL, and checkpointing behavior layered
// on top. Grounded on the teacher's runtime/agent/run package for the
// per-turn phase-loop idiom (Prompted→Planning→ExecutingTools→Synthesizing),
// generalized here from a single agent's turn to the whole multi-agent,
// multi-phase run, and on runtime/agent/engine.Engine for the
// workflow/signal plumbing the run loop executes under (see engine/).
package supervisor

import (
	"regexp"
	"strings"
)

// maxTrivialLen bounds how long a task's trimmed text may be and still
// qualify for the fast-path bypass (spec §4.1's "greeting, short factoid,
// small arithmetic" trivial classes are all short by nature).
const maxTrivialLen = 60

var (
	greetingRe = regexp.MustCompile(`(?i)^(hi|hello|hey|yo|sup|howdy|greetings|good\s+(morning|afternoon|evening))[!.,\s]*$`)

	// arithmeticRe matches a bare small-arithmetic expression, optionally
	// ending in "=" or "?" ("2+2", "what is 2+2?" is NOT matched here —
	// word-bearing factoid questions are handled by shortFactoidRe instead).
	arithmeticRe = regexp.MustCompile(`^[\d\s+\-*/().]+=?\s*\??$`)

	// followupRe flags language that implies the task depends on context the
	// supervisor hasn't been given directly in this message — disqualifying
	// it from the fast path even when conversation history is otherwise
	// absent (spec §4.1's "no follow-up markers").
	followupRe = regexp.MustCompile(`(?i)\b(also|additionally|furthermore|what about|and then|continue|follow[\s-]?up|previously|earlier|again|that one|this one|as (i|you) (said|mentioned))\b`)

	shortFactoidRe = regexp.MustCompile(`^(what|who|when|where|which|how)\b.{0,55}\?$`)
)

// IsTrivial reports whether task qualifies for the fast-path bypass (spec
// §4.1): a greeting, a short factoid question, or small arithmetic, with no
// follow-up markers. Callers must independently check for prior conversation
// history — the Open Question in spec §8 resolves the gate to "≥1 prior
// assistant message", implemented by the caller via
// convmemory.HasPriorAssistantMessage, not here, since this function only
// looks at the task text itself.
func IsTrivial(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" || len(t) > maxTrivialLen {
		return false
	}
	if followupRe.MatchString(t) {
		return false
	}
	return greetingRe.MatchString(t) || arithmeticRe.MatchString(t) || shortFactoidRe.MatchString(t)
}
