package training

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/kihoon96/Baseline/checkpoints"
)

// MultiStepLR decays the optimizer learning rate by gamma once the
// epoch counter passes each milestone. Duplicate milestones compound.
type MultiStepLR struct {
	opt        Optimizer
	milestones map[int]int
	gamma      float64
	lastEpoch  int
}

// NewMultiStepLR creates a multi-step learning rate scheduler.
func NewMultiStepLR(opt Optimizer, milestones []int, gamma float64) (*MultiStepLR, error) {
	if opt == nil {
		return nil, errors.New("scheduler needs an optimizer")
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1 // Default: reduce by 10x
	}
	s := &MultiStepLR{opt: opt, gamma: gamma}
	s.setMilestones(milestones)
	return s, nil
}

func (s *MultiStepLR) setMilestones(milestones []int) {
	s.milestones = make(map[int]int, len(milestones))
	for _, m := range milestones {
		s.milestones[m]++
	}
}

// Step advances the epoch counter and applies any decay due at the
// new epoch. Call it once after each training epoch.
func (s *MultiStepLR) Step() {
	s.lastEpoch++
	if n := s.milestones[s.lastEpoch]; n > 0 {
		s.opt.SetLR(s.opt.GetLR() * math.Pow(s.gamma, float64(n)))
	}
}

// LastEpoch returns the number of Step calls applied so far.
func (s *MultiStepLR) LastEpoch() int {
	return s.lastEpoch
}

// Milestones returns the decay epochs in ascending order, with
// duplicates expanded.
func (s *MultiStepLR) Milestones() []int {
	var out []int
	for m, n := range s.milestones {
		for i := 0; i < n; i++ {
			out = append(out, m)
		}
	}
	sort.Ints(out)
	return out
}

// Gamma returns the decay factor.
func (s *MultiStepLR) Gamma() float64 {
	return s.gamma
}

// SetSchedule replaces the milestones and decay factor, keeping the
// epoch counter. Used when the run configuration overrides a restored
// schedule.
func (s *MultiStepLR) SetSchedule(milestones []int, gamma float64) {
	if gamma > 0 && gamma < 1 {
		s.gamma = gamma
	}
	s.setMilestones(milestones)
}

// State snapshots the schedule and epoch counter.
func (s *MultiStepLR) State() checkpoints.SchedulerState {
	return checkpoints.SchedulerState{
		Type:       "multistep",
		Milestones: s.Milestones(),
		Gamma:      s.gamma,
		LastEpoch:  s.lastEpoch,
	}
}

// LoadState restores the schedule and epoch counter verbatim. The
// snapshot itself is only read.
func (s *MultiStepLR) LoadState(st checkpoints.SchedulerState) error {
	if st.Type != "" && st.Type != "multistep" {
		return errors.Errorf("cannot restore %q state into multistep", st.Type)
	}
	if st.Gamma != 0 {
		s.gamma = st.Gamma
	}
	s.setMilestones(st.Milestones)
	s.lastEpoch = st.LastEpoch
	return nil
}
