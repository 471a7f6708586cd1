package harness

// TraceEvent records how one message changed the store.
type TraceEvent struct {
	Seq     int64    `json:"seq"`
	Added   int      `json:"added"`
	Updated int      `json:"updated"`
	Pruned  int      `json:"pruned"`
	Ignored int      `json:"ignored,omitempty"`
	Rebuilt []string `json:"rebuilt,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held and the journal replayed to
	// the same state.
	Pass bool `json:"pass"`

	// Trace has one event per applied message, in seq order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Tree is the rendered final tree of every workflow in the store.
	Tree string `json:"tree"`

	// Checksums maps entity type to the store checksum after the run.
	Checksums map[string]string `json:"checksums"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		Checksums: make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
