package experiment

// ResumeState carries a restored position into the experiment walk.
// It is single-shot: the first Take returns the position and clears it, so
// the nested loops of a worker can never re-apply it at a second level.
type ResumeState struct {
	pending *State
}

// NewResumeState wraps a position restored from a checkpoint.
func NewResumeState(st State) *ResumeState {
	st = st.Clone()
	return &ResumeState{pending: &st}
}

// Pending reports whether the position has not been consumed yet.
func (r *ResumeState) Pending() bool {
	return r != nil && r.pending != nil
}

// Take returns the saved position and clears it. A nil ResumeState behaves
// like one that was already taken.
func (r *ResumeState) Take() (State, bool) {
	if !r.Pending() {
		return State{}, false
	}
	st := *r.pending
	r.pending = nil
	return st, true
}
