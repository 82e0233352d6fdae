package score

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelevanceSubstring(t *testing.T) {
	text := strings.Repeat("x", 95) + "Hello"
	assert.InDelta(t, 0.95, Relevance(text, "hello"), 1e-9)

	// The length bonus is capped at 0.1.
	assert.InDelta(t, 1.0, Relevance("Deploy the Postgres pool", "postgres"), 1e-9)
}

func TestRelevanceWordOverlap(t *testing.T) {
	tests := []struct {
		text, query string
		want        float64
	}{
		{"postgres_connection_pool_config", "postgres pool", 0.9},
		{"postgres_connection_pool_config", "postgres mysql", 0.7},
		{"a b c", "a x y z", 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.InDelta(t, tt.want, Relevance(tt.text, tt.query), 1e-9)
		})
	}
}

func TestRelevanceFuzzyFallbackIsHalved(t *testing.T) {
	s := Relevance("react_useeffect_async_cleanup", "postgres pool")
	assert.Less(t, s, 0.5)
	assert.GreaterOrEqual(t, s, 0.0)
}

func TestRelevanceRanksRelevantAboveUnrelated(t *testing.T) {
	good := Relevance("postgres_connection_pool_config", "postgres pool")
	bad := Relevance("react_useeffect_async_cleanup", "postgres pool")
	assert.Greater(t, good, bad)
}

func TestRelevanceFuzzyUsesOnlyPrefix(t *testing.T) {
	long := "zzzz"
	for i := 0; i < 50; i++ {
		long += " filler"
	}
	assert.Equal(t,
		JaroWinkler(Preview(long, 100), "qqqq")*0.5,
		Relevance(long, "qqqq"))
}

func TestNameScore(t *testing.T) {
	assert.InDelta(t, 1.0, Name("auth_flow", "auth_flow", ChainNameBoost), 1e-9)

	withBoost := Name("my-feature-auth", "auth", ChainNameBoost)
	assert.InDelta(t, min(1.0, JaroWinkler("my-feature-auth", "auth")+0.3), withBoost, 1e-9)

	// Case folding before comparison.
	assert.Equal(t, Name("API_Rate", "api", MemoryKeyBoost), Name("api_rate", "API", MemoryKeyBoost))
}

func TestJaroWinklerPrefixBoost(t *testing.T) {
	assert.InDelta(t, 0.961, JaroWinkler("martha", "marhta"), 0.001)
	assert.InDelta(t, 0.840, JaroWinkler("dwayne", "duane"), 0.001)
	assert.InDelta(t, 0.813, JaroWinkler("dixon", "dicksonx"), 0.001)
}

func TestJaroWinklerComparesBytes(t *testing.T) {
	// "é" is two bytes, neither of which matches "e".
	assert.InDelta(t, 0.848, JaroWinkler("café", "cafe"), 0.001)
	assert.InDelta(t, 1.0, JaroWinkler("café", "café"), 1e-9)
}

func TestRankNamesFloorAndLimit(t *testing.T) {
	names := []string{"auth-feature", "bug-fix-123", "auth-refactor", "zzzz"}

	got := RankNames(names, "auth", ChainNameBoost, ChainNameFloor, 10)
	for _, m := range got {
		assert.Greater(t, m.Score, ChainNameFloor)
	}
	assert.Equal(t, "auth-feature", got[0].Name)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}

	all := RankNames(names, "auth", MemoryKeyBoost, NoFloor, 100)
	assert.Len(t, all, len(names))

	limited := RankNames(names, "auth", MemoryKeyBoost, NoFloor, 2)
	assert.Len(t, limited, 2)
	assert.Equal(t, all[:2], limited)
}

func TestPreviewCountsRunes(t *testing.T) {
	assert.Equal(t, "héé", Preview("hééllo", 3))
	assert.Equal(t, "hi", Preview("hi", 200))
	assert.Equal(t, "", Preview("hi", 0))
}
