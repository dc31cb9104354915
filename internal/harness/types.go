package harness

// Observation is what one assertion saw.
type Observation struct {
	Assertion int    `json:"assertion"`
	Type      string `json:"type"`
	Label     string `json:"label"`
	ID        string `json:"id,omitempty"`
	Output    any    `json:"output"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Errors contains one message per failed assertion.
	Errors []string `json:"errors,omitempty"`

	// Observations holds one entry per evaluated assertion, in order.
	Observations []Observation `json:"observations"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:         true,
		Errors:       []string{},
		Observations: []Observation{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) observe(o Observation) {
	r.Observations = append(r.Observations, o)
}
