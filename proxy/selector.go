package proxy

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

// ErrSelectorExhausted is returned by a sequence selector asked for more
// draws than it holds. It is a fatal configuration error: substituting a
// default silently would invalidate the intended test sequence.
var ErrSelectorExhausted = errors.New("failure selector exhausted")

// FailureSelector yields one failure per proxied request. Next is called
// exactly once per request, after the upstream response is captured and
// before any byte is written back, and must be safe for concurrent use.
type FailureSelector interface {
	Next() (Failure, error)
}

// ConstantSelector always yields the same failure.
type ConstantSelector struct {
	failure Failure
}

// Constant returns a selector that always yields f.
func Constant(f Failure) *ConstantSelector {
	return &ConstantSelector{failure: f}
}

func (s *ConstantSelector) Next() (Failure, error) {
	return s.failure, nil
}

func (s *ConstantSelector) String() string {
	return "constant(" + s.failure.String() + ")"
}

// SequenceSelector yields a finite ordered sequence of failures, one per
// draw. Concurrent draws each receive a unique sequence position; drawing
// past the end returns ErrSelectorExhausted.
type SequenceSelector struct {
	mu       sync.Mutex
	failures []Failure
	pos      int
}

// Sequence returns a selector over the given failures in order.
func Sequence(failures ...Failure) *SequenceSelector {
	return &SequenceSelector{failures: failures}
}

func (s *SequenceSelector) Next() (Failure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.failures) {
		return Success, fmt.Errorf("%w after %d draws", ErrSelectorExhausted, s.pos)
	}
	f := s.failures[s.pos]
	s.pos++
	return f, nil
}

func (s *SequenceSelector) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := lo.Map(s.failures, func(f Failure, _ int) string { return f.String() })
	return fmt.Sprintf("sequence(%s)[%d/%d]", strings.Join(names, ","), s.pos, len(s.failures))
}

// RandomSelector draws failures at random with configured integer weights.
type RandomSelector struct {
	mu      sync.Mutex
	rnd     *rand.Rand
	choices []Failure
	bounds  []int // cumulative weights, parallel to choices
	total   int
}

// Random returns a weighted random selector. Weights must be non-negative
// and sum to a positive total.
func Random(weights map[Failure]int) (*RandomSelector, error) {
	keys := lo.Keys(weights)
	slices.Sort(keys)

	s := &RandomSelector{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, f := range keys {
		w := weights[f]
		if w < 0 {
			return nil, fmt.Errorf("negative weight %d for failure %s", w, f)
		}
		if w == 0 {
			continue
		}
		s.total += w
		s.choices = append(s.choices, f)
		s.bounds = append(s.bounds, s.total)
	}
	if s.total == 0 {
		return nil, errors.New("no positive failure weights configured")
	}
	return s, nil
}

func (s *RandomSelector) Next() (Failure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.rnd.Intn(s.total)
	for i, bound := range s.bounds {
		if n < bound {
			return s.choices[i], nil
		}
	}
	// Unreachable: bounds end at total.
	return s.choices[len(s.choices)-1], nil
}

func (s *RandomSelector) String() string {
	names := lo.Map(s.choices, func(f Failure, _ int) string { return f.String() })
	return "random(" + strings.Join(names, ",") + ")"
}
