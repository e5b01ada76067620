package remote

import "strings"

// CompletionMarker is the only success signal of a transformation job. The
// process exit status is never consulted.
const CompletionMarker = "Spark Job Successfully completed"

// FailureReason is reported when no output line carries the marker.
const FailureReason = "Spark Job failed"

// Verdict is the judgement over a job's streamed standard output.
type Verdict struct {
	Succeeded     bool     `json:"succeeded"`
	ExitEvidence  []string `json:"exitEvidence"`
	FailureReason string   `json:"failureReason,omitempty"`
}

// Judge applies the verdict rule: success iff at least one line contains the
// completion marker (case-sensitive substring).
func Judge(lines []string) *Verdict {
	v := &Verdict{ExitEvidence: append([]string(nil), lines...)}
	for _, l := range lines {
		if strings.Contains(l, CompletionMarker) {
			v.Succeeded = true
			return v
		}
	}
	v.FailureReason = FailureReason
	return v
}
