package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allCombinations enumerates the full cross-product P1 must check.
func allCombinations() []Combination {
	var out []Combination
	for auth := AuthNone; auth <= AuthMultiMember; auth++ {
		for res := ResPublic; res <= ResLinear; res++ {
			for dist := DistRelay; dist <= DistLastSync; dist++ {
				for dest := DestAddress; dest <= DestSimilarity; dest++ {
					out = append(out, Combination{Auth: auth, Res: res, Dist: dist, Dest: dest})
				}
			}
		}
	}
	return out
}

// legalByHand mirrors the §4.1 table plus the cross-axis rules, by hand, so the
// test is an independent check of Validate rather than a restatement of it.
func legalByHand(c Combination) bool {
	allowed := map[Authentication]struct {
		res  map[Resolution]bool
		dist map[Distribution]bool
		dest map[Destination]bool
	}{
		AuthNone: {
			res:  map[Resolution]bool{ResPublic: true},
			dist: map[Distribution]bool{DistRelay: true, DistDirect: true},
			dest: map[Destination]bool{DestAddress: true, DestMember: true, DestCommunity: true},
		},
		AuthMember: {
			res:  map[Resolution]bool{ResPublic: true, ResLinear: true},
			dist: map[Distribution]bool{DistRelay: true, DistDirect: true, DistFullSync: true, DistLastSync: true},
			dest: map[Destination]bool{DestAddress: true, DestMember: true, DestCommunity: true, DestSimilarity: true},
		},
		AuthMultiMember: {
			res:  map[Resolution]bool{ResPublic: true, ResLinear: true},
			dist: map[Distribution]bool{DistRelay: true, DistDirect: true, DistLastSync: true},
			dest: map[Destination]bool{DestAddress: true, DestMember: true, DestCommunity: true, DestSimilarity: true},
		},
	}[c.Auth]

	if !allowed.res[c.Res] || !allowed.dist[c.Dist] || !allowed.dest[c.Dest] {
		return false
	}
	if c.Dist == DistFullSync && c.Auth != AuthMember {
		return false
	}
	if (c.Dist == DistFullSync || c.Dist == DistLastSync) && c.Dest != DestCommunity && c.Dest != DestSimilarity {
		return false
	}
	if c.Dist == DistRelay && c.Dest != DestAddress && c.Dest != DestMember {
		return false
	}
	return true
}

// TestPolicyMatrix is property P1: register_meta succeeds iff the tuple is
// in the §4.1 table.
func TestPolicyMatrix(t *testing.T) {
	for _, c := range allCombinations() {
		want := legalByHand(c)
		got := Validate(c) == nil
		assert.Equalf(t, want, got, "combination %+v", c)
	}
}

func TestRegistryImmutableAfterRegistration(t *testing.T) {
	r := NewRegistry()
	c := Combination{Auth: AuthMember, Res: ResPublic, Dist: DistFullSync, Dest: DestCommunity}
	require.NoError(t, r.Register("text", c))

	// Re-registering the same combination is a no-op.
	require.NoError(t, r.Register("text", c))

	// Re-registering with a different combination must fail.
	other := c
	other.Dist = DistLastSync
	other.Dest = DestSimilarity
	err := r.Register("text", other)
	require.ErrorIs(t, err, ErrPolicyMismatch)

	got, ok := r.Lookup("text")
	require.True(t, ok)
	assert.Equal(t, c, got)
}

func TestRegisterRejectsIllegalCombination(t *testing.T) {
	r := NewRegistry()
	// FullSync with MultiMember auth is illegal.
	err := r.Register("bad", Combination{Auth: AuthMultiMember, Res: ResPublic, Dist: DistFullSync, Dest: DestCommunity})
	require.ErrorIs(t, err, ErrPolicyMismatch)
}
