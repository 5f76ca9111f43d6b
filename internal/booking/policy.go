package booking

import (
	"math/rand"
	"sync"

	"github.com/clinicdesk/scheduling-engine/internal/roster"
)

// Candidate is a doctor eligible for auto-assignment on a given date.
// FreeSlots is the number of unbooked slots that doctor has that day;
// the coordinator only offers candidates with at least one.
type Candidate struct {
	Doctor    roster.Doctor
	FreeSlots int
}

// AssignmentPolicy picks a doctor when the booking request leaves the
// choice open. Implementations may assume candidates is non-empty.
type AssignmentPolicy interface {
	Name() string
	Assign(candidates []Candidate) roster.Doctor
}

// UniformRandom picks uniformly among the candidates.
type UniformRandom struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewUniformRandom(seed int64) *UniformRandom {
	return &UniformRandom{rng: rand.New(rand.NewSource(seed))}
}

func (p *UniformRandom) Name() string { return "uniform_random" }

func (p *UniformRandom) Assign(candidates []Candidate) roster.Doctor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return candidates[p.rng.Intn(len(candidates))].Doctor
}

// RoundRobin cycles through candidates across successive assignments.
type RoundRobin struct {
	mu   sync.Mutex
	next int
}

func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (p *RoundRobin) Name() string { return "round_robin" }

func (p *RoundRobin) Assign(candidates []Candidate) roster.Doctor {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := candidates[p.next%len(candidates)].Doctor
	p.next++
	return d
}

// LeastLoaded picks the candidate with the most free slots left on the
// date, which is the doctor with the lightest booked load. Ties go to
// the earliest candidate in roster order.
type LeastLoaded struct{}

func NewLeastLoaded() *LeastLoaded { return &LeastLoaded{} }

func (p *LeastLoaded) Name() string { return "least_loaded" }

func (p *LeastLoaded) Assign(candidates []Candidate) roster.Doctor {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.FreeSlots > best.FreeSlots {
			best = c
		}
	}
	return best.Doctor
}
