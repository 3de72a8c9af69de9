package sandbox

import (
	"encoding/json"
	"time"
)

// Outcome is the result of one execution: either a result or an error,
// always accompanied by the console entries captured before it finished.
type Outcome struct {
	Result   string
	Error    string
	Failed   bool
	TimedOut bool
	Logs     []string
	Duration time.Duration
}

// Succeeded builds a successful outcome.
func Succeeded(result string, logs []string) *Outcome {
	return &Outcome{Result: result, Logs: nonNil(logs)}
}

// Failed builds a failed outcome.
func Failed(msg string, logs []string) *Outcome {
	return &Outcome{Error: msg, Failed: true, Logs: nonNil(logs)}
}

// Status names the outcome for metrics and storage.
func (o *Outcome) Status() string {
	switch {
	case o.TimedOut:
		return "timed_out"
	case o.Failed:
		return "failed"
	default:
		return "succeeded"
	}
}

type successBody struct {
	Result string   `json:"result"`
	Logs   []string `json:"logs"`
}

type failureBody struct {
	Error string   `json:"error"`
	Logs  []string `json:"logs"`
}

// MarshalJSON encodes the outcome as {result, logs} or {error, logs}.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Failed {
		return json.Marshal(failureBody{Error: o.Error, Logs: nonNil(o.Logs)})
	}
	return json.Marshal(successBody{Result: o.Result, Logs: nonNil(o.Logs)})
}

// UnmarshalJSON accepts either response shape. A body carrying neither
// field decodes as a success with an empty result.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var raw struct {
		Result *string  `json:"result"`
		Error  *string  `json:"error"`
		Logs   []string `json:"logs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = Outcome{Logs: nonNil(raw.Logs)}
	if raw.Error != nil {
		o.Failed = true
		o.Error = *raw.Error
		return nil
	}
	if raw.Result != nil {
		o.Result = *raw.Result
	}
	return nil
}

func nonNil(logs []string) []string {
	if logs == nil {
		return []string{}
	}
	return logs
}
