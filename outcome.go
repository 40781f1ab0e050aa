package vybe

// Outcome is the classified result of a run: an ErrorOutcome or a
// ResultOutcome.
type Outcome interface {
	isOutcome()
}

// ErrorOutcome reports a run that produced no usable artifact. Reason holds
// whatever summary the run captured, possibly empty.
type ErrorOutcome struct {
	Reason string `json:"reason"`
}

// ResultOutcome reports a run that produced files and a summary.
type ResultOutcome struct {
	Summary     string            `json:"summary"`
	Response    string            `json:"response"`
	Title       string            `json:"title"`
	Files       map[string]string `json:"files"`
	EndpointURL string            `json:"endpoint_url"`
}

func (ErrorOutcome) isOutcome()  {}
func (ResultOutcome) isOutcome() {}

// Classify decides the outcome of a finished run. It is an Error when no
// summary was captured or no file was written, a Result otherwise. Response,
// Title and EndpointURL of a Result are filled in by the caller.
func Classify(state *RunState) Outcome {
	summary := state.Summary()
	files := state.Files()
	if summary == "" || len(files) == 0 {
		return ErrorOutcome{Reason: summary}
	}
	return ResultOutcome{Summary: summary, Files: files}
}
