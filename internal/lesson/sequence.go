package lesson

// Sequence is the ordered, append-only list of steps for one session.
// It is not safe for concurrent use; the controller owns it.
type Sequence struct {
	steps []Step
	index map[StepID]int
}

// NewSequence returns an empty sequence.
func NewSequence() *Sequence {
	return &Sequence{index: make(map[StepID]int)}
}

// Replace installs a bootstrap batch. A non-empty sequence is never cleared:
// steps it already holds are kept in place and only unseen ones are appended.
// Returns the steps that were added.
func (s *Sequence) Replace(batch []Step) []Step {
	return s.Append(batch...)
}

// Append adds steps in arrival order, skipping ids already present.
// Steps without an id get a synthesized one. Returns the steps that were added.
func (s *Sequence) Append(batch ...Step) []Step {
	added := make([]Step, 0, len(batch))
	for _, step := range batch {
		if step.ID == "" {
			step.ID = NewStepID()
		}
		if _, dup := s.index[step.ID]; dup {
			continue
		}
		step.Index = len(s.steps)
		s.index[step.ID] = step.Index
		s.steps = append(s.steps, step)
		added = append(added, step)
	}
	return added
}

// Len returns the number of steps.
func (s *Sequence) Len() int { return len(s.steps) }

// At returns the step at index i.
func (s *Sequence) At(i int) (Step, bool) {
	if i < 0 || i >= len(s.steps) {
		return Step{}, false
	}
	return s.steps[i], true
}

// IndexOf returns the index of the step with the given id.
func (s *Sequence) IndexOf(id StepID) (int, bool) {
	i, ok := s.index[id]
	return i, ok
}

// Snapshot returns a copy of the steps.
func (s *Sequence) Snapshot() []Step {
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}
