package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatio(t *testing.T) {
	assert.Equal(t, 100, Ratio("widget", "widget"))
	assert.Equal(t, 0, Ratio("", "widget"))
	assert.Equal(t, 0, Ratio("widget", ""))

	// One edit over six characters.
	assert.Equal(t, 83, Ratio("widget", "wldget"))
	assert.Less(t, Ratio("widget", "flange"), 40)
}

func TestTokenSetRatioIgnoresWordOrder(t *testing.T) {
	a := "Steel Widget M6 Hex"
	b := "M6 Hex Steel Widget"
	assert.Equal(t, 100, TokenSetRatio(a, b))
}

func TestTokenSetRatioIgnoresCaseAndPunctuation(t *testing.T) {
	assert.Equal(t, 100, TokenSetRatio("Widget, Steel (M6)", "widget steel m6"))
}

func TestTokenSetRatioPartialOverlap(t *testing.T) {
	score := TokenSetRatio("Steel Widget M6", "Steel Widget M8")
	assert.Greater(t, score, 60)
	assert.Less(t, score, 100)
}

func TestTokenSetRatioDisjoint(t *testing.T) {
	assert.Equal(t, 0, TokenSetRatio("", "anything"))
	assert.Less(t, TokenSetRatio("copper pipe elbow", "annual maintenance fee"), MatchThreshold)
}
