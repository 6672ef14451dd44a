package engine

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/fenwick-ci/forge/internal/model"
)

// TestPublishMessageFormat pins the exact wording of the status
// commit message publish builds, since forge UIs render it verbatim.
func TestPublishMessageFormatForPR(t *testing.T) {
	target := &Target{
		ID:    prTarget(testProjectID(), 7),
		Head:  "abcdef0000000000000000000000000000000000",
		Title: "add feature",
	}
	message := fmt.Sprintf("Set state of %s: %s = %s", target.dump(), "build", model.StatusSuccess)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, "pr-message", []byte(message))
}

func TestPublishMessageFormatForRef(t *testing.T) {
	target := &Target{
		ID:   refTarget(testProjectID(), "heads/main"),
		Head: "beef123000000000000000000000000000000000",
	}
	message := fmt.Sprintf("Set state of %s: %s = %s", target.dump(), "lint", model.StatusFailure)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, "ref-message", []byte(message))
}
