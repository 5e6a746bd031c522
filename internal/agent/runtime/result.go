package runtime

import (
	"fmt"
	"math"
	"strings"

	"github.com/ankittk/agentorch/internal/catalog"
	"github.com/ankittk/agentorch/pkg/models"
)

// bytesPerToken approximates tokenization for cost estimates.
const bytesPerToken = 4

// BuildResult normalizes an outcome into a Result. Output is set only on
// success and Error only on failure. The cost is a best-effort estimate, not
// a billing figure: observed input/output sizes priced per token when the
// spec carries prices, otherwise the spec's average cost per task.
func BuildResult(runID string, spec catalog.WorkerSpec, inv Invocation, o Outcome) models.Result {
	res := models.Result{
		RunID:                runID,
		TypeName:             spec.Name,
		Status:               string(o.State),
		Success:              o.State == Succeeded,
		Workspace:            inv.Dir,
		ExecutionTimeSeconds: round(o.Elapsed.Seconds(), 3),
		EstimatedCost:        estimateCost(spec.Cost, len(inv.Stdin), len(o.Stdout)),
	}
	code := o.ExitCode
	res.ExitCode = &code
	if stderr := strings.TrimSpace(o.Stderr); stderr != "" {
		res.Stderr = &stderr
	}
	if res.Success {
		out := strings.TrimSpace(o.Stdout)
		res.Output = &out
		return res
	}
	msg := failureMessage(o)
	res.Error = &msg
	return res
}

// FailedResult is the result of a run that never produced a process, such as
// an unknown worker type or an unresolvable sandbox.
func FailedResult(runID, typeName string, err error) models.Result {
	msg := err.Error()
	return models.Result{
		RunID:    runID,
		TypeName: typeName,
		Status:   models.RunFailed,
		Error:    &msg,
	}
}

func failureMessage(o Outcome) string {
	var msg string
	switch {
	case o.State == TimedOut:
		msg = fmt.Sprintf("worker timed out after %ds (terminated)", int(math.Round(o.Timeout.Seconds())))
		if o.Killed {
			msg = fmt.Sprintf("worker timed out after %ds (killed after ignoring terminate)", int(math.Round(o.Timeout.Seconds())))
		}
	case o.Cancelled:
		msg = "run cancelled before the worker finished"
	case o.ExitCode < 0:
		msg = "worker was killed by a signal"
	default:
		msg = fmt.Sprintf("worker exited with code %d", o.ExitCode)
	}
	if stderr := lastLine(o.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func estimateCost(c catalog.CostProfile, inBytes, outBytes int) float64 {
	if !c.Priced() {
		return c.PerTask
	}
	if inBytes == 0 && outBytes == 0 {
		return c.PerTask
	}
	return round(c.Estimate(inBytes/bytesPerToken, outBytes/bytesPerToken), 6)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return strings.TrimSpace(s)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
