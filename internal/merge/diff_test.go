package merge

import (
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func regionsFor(ancestor, source, target string) []region {
	dmp := diffmatchpatch.New()
	return clusterRegions(
		diffEdits(dmp, ancestor, source, sideSource),
		diffEdits(dmp, ancestor, target, sideTarget),
	)
}

func TestDiffEditsUseRuneOffsets(t *testing.T) {
	edits := diffEdits(diffmatchpatch.New(), "héllo wörld", "héllo brave wörld", sideSource)
	require.Len(t, edits, 1)
	assert.Equal(t, 6, edits[0].start)
	assert.Equal(t, 6, edits[0].end)
	assert.Equal(t, "brave ", edits[0].text)
}

func TestClusterRegions(t *testing.T) {
	cases := []struct {
		name        string
		ancestor    string
		source      string
		target      string
		regions     int
		conflicting int
	}{
		{name: "both append at the same offset", ancestor: "draft", source: "draft final", target: "draft v2", regions: 1, conflicting: 1},
		{name: "identical edits", ancestor: "draft", source: "draft v2", target: "draft v2", regions: 1, conflicting: 0},
		{name: "disjoint edits", ancestor: "The quick brown fox", source: "The very quick brown fox", target: "The quick brown fox jumps", regions: 2, conflicting: 0},
		{name: "only one side changed", ancestor: "draft", source: "draft final", target: "draft", regions: 1, conflicting: 0},
		{name: "nothing changed", ancestor: "draft", source: "draft", target: "draft", regions: 0, conflicting: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			regions := regionsFor(tc.ancestor, tc.source, tc.target)
			assert.Len(t, regions, tc.regions)
			conflicting := 0
			for _, r := range regions {
				if r.conflicting([]rune(tc.ancestor)) {
					conflicting++
				}
			}
			assert.Equal(t, tc.conflicting, conflicting)
		})
	}
}

func TestRegionTextPerSide(t *testing.T) {
	regions := regionsFor("draft", "draft final", "draft v2")
	require.Len(t, regions, 1)
	anc := []rune("draft")
	assert.Equal(t, " final", regions[0].text(anc, sideSource))
	assert.Equal(t, " v2", regions[0].text(anc, sideTarget))
	assert.Equal(t, 5, regions[0].start)
}

func TestThreeWayAppliesBothSides(t *testing.T) {
	cases := []struct {
		ancestor string
		source   string
		target   string
		want     string
	}{
		{"The quick brown fox", "The quick red fox", "The quick brown fox jumps", "The quick red fox jumps"},
		{"0123456789AB", "0123456789ABS", "0123456789xy", "0123456789xyS"},
		{"alpha beta gamma", "beta gamma", "alpha beta", "beta"},
		{"one two three", "one 2 three", "one two 3", "one 2 3"},
	}
	dmp := diffmatchpatch.New()
	for _, tc := range cases {
		source := diffEdits(dmp, tc.ancestor, tc.source, sideSource)
		target := diffEdits(dmp, tc.ancestor, tc.target, sideTarget)
		for _, r := range clusterRegions(source, target) {
			require.False(t, r.conflicting([]rune(tc.ancestor)), "%q vs %q", tc.source, tc.target)
		}
		got, err := threeWay(tc.ancestor, source, target)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}
