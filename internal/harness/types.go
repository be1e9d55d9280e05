package harness

// TraceEvent records one executed job.
type TraceEvent struct {
	Run     int                 `json:"run"`
	Module  string              `json:"module"`
	Inputs  map[string][]string `json:"inputs"`
	Outputs map[string][]string `json:"outputs,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// RunResult summarizes one run of a scenario.
type RunResult struct {
	RunID       string              `json:"run_id"`
	Plan        []string            `json:"plan"`
	Completed   int                 `json:"completed"`
	Failed      int                 `json:"failed"`
	Outstanding int                 `json:"outstanding"`
	Archived    int                 `json:"archived"`
	Outputs     map[string][]string `json:"outputs"`
	Jobs        map[string]int      `json:"jobs"`

	// ErrorCode is the run's error code, empty if the run succeeded.
	ErrorCode string `json:"error_code,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	Runs []RunResult `json:"runs"`

	// Trace lists every executed job, sorted by run, module and inputs.
	Trace []TraceEvent `json:"trace"`

	// Errors holds one message per failed assertion.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
