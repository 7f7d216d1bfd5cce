package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
)

// Step is one scripted gateway reply
type Step struct {
	Verdict *domain.Verdict
	Err     error
}

// Scripted replays queued replies in order. Once the script runs out it
// keeps returning the last step. It records every submission it receives.
type Scripted struct {
	mu    sync.Mutex
	steps []Step
	calls []Submission
	block chan struct{}
}

// NewScripted creates a scripted gateway
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Reply appends a verdict to the script
func (s *Scripted) Reply(v domain.Verdict) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, Step{Verdict: &v})
	return s
}

// Fail appends an error to the script
func (s *Scripted) Fail(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, Step{Err: err})
	return s
}

// Hold makes the next Submit calls wait until the returned release func is called
func (s *Scripted) Hold() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.block = ch
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.block == ch {
				s.block = nil
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns the submissions received so far
func (s *Scripted) Calls() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Submission, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Scripted) Submit(ctx context.Context, sub Submission) (*domain.Verdict, error) {
	s.mu.Lock()
	s.calls = append(s.calls, sub)
	block := s.block
	var step Step
	switch len(s.steps) {
	case 0:
		step = Step{Err: fmt.Errorf("no scripted reply")}
	case 1:
		step = s.steps[0]
	default:
		step = s.steps[0]
		s.steps = s.steps[1:]
	}
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrGateway, ctx.Err())
		}
	}

	if step.Err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGateway, step.Err)
	}
	v := *step.Verdict
	return &v, nil
}
