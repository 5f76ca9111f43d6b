package booking

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/scheduling-engine/internal/roster"
)

func candidates(frees ...int) []Candidate {
	out := make([]Candidate, 0, len(frees))
	for _, n := range frees {
		out = append(out, Candidate{
			Doctor:    roster.Doctor{ID: uuid.New()},
			FreeSlots: n,
		})
	}
	return out
}

func TestUniformRandomStaysWithinCandidates(t *testing.T) {
	p := NewUniformRandom(42)
	cs := candidates(3, 1, 5)

	ids := map[uuid.UUID]bool{}
	for _, c := range cs {
		ids[c.Doctor.ID] = true
	}

	for i := 0; i < 100; i++ {
		require.True(t, ids[p.Assign(cs).ID])
	}
}

func TestUniformRandomIsDeterministicPerSeed(t *testing.T) {
	cs := candidates(1, 1, 1, 1)

	a := NewUniformRandom(7)
	b := NewUniformRandom(7)
	for i := 0; i < 20; i++ {
		require.Equal(t, a.Assign(cs).ID, b.Assign(cs).ID)
	}
}

func TestRoundRobinCycles(t *testing.T) {
	p := NewRoundRobin()
	cs := candidates(1, 1, 1)

	require.Equal(t, cs[0].Doctor.ID, p.Assign(cs).ID)
	require.Equal(t, cs[1].Doctor.ID, p.Assign(cs).ID)
	require.Equal(t, cs[2].Doctor.ID, p.Assign(cs).ID)
	require.Equal(t, cs[0].Doctor.ID, p.Assign(cs).ID)
}

func TestLeastLoadedPicksMostFreeSlots(t *testing.T) {
	p := NewLeastLoaded()
	cs := candidates(2, 7, 7, 4)

	// Highest free count wins; ties resolve to the earlier candidate.
	require.Equal(t, cs[1].Doctor.ID, p.Assign(cs).ID)
}
