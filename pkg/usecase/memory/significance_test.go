package memory

import (
	"testing"

	"github.com/m-mizutani/gt"
)

func TestSignificantKeeps(t *testing.T) {
	kept := []string{
		"Use async/await for I/O in Node",
		"The deploy script lives at /opt/deploy/run.sh",
		"Prefer errors.Is(err, target) over direct comparison in Go",
		"Set maxRetries to 3 in the client config",
		"Check https://pkg.go.dev/context before adding timeouts",
		"Wrap the handler like `withAuth(handler)` in middleware",
		"if x := f(); x != nil { return x } is the early-return idiom",
	}
	for _, fact := range kept {
		keep, reason := Significant(fact)
		if !keep {
			t.Errorf("expected to keep %q, dropped: %s", fact, reason)
		}
	}
}

func TestSignificantDrops(t *testing.T) {
	dropped := []string{
		"",
		"   ",
		"My name is John Smith",
		"my email is john@example.com",
		"I live in Berlin",
		"Hello, how are you today",
		"nice weather today lol",
		"We talked about lunch plans",
	}
	for _, fact := range dropped {
		keep, _ := Significant(fact)
		if keep {
			t.Errorf("expected to drop %q", fact)
		}
	}
}

func TestSignificantScenario(t *testing.T) {
	// Mixed interaction content: only the technical facts survive
	facts := map[string]bool{
		"Use async/await for I/O in Node": true,
		"My name is John Smith":           false,
		"We talked about lunch plans":     false,
	}
	for fact, want := range facts {
		keep, reason := Significant(fact)
		gt.Equal(t, keep, want)
		gt.S(t, reason).NotContains("{{")
	}
}

func TestTechnicalDensity(t *testing.T) {
	gt.Equal(t, technicalDensity(""), 0.0)
	gt.True(t, technicalDensity("the api returns json over http") > vocabularyDensityThreshold)
	gt.True(t, technicalDensity("we went to the park yesterday afternoon") == 0)

	// Compound tokens split on slashes count as separate words
	gt.True(t, technicalDensity("Use async/await for I/O in Node") > vocabularyDensityThreshold)
}
