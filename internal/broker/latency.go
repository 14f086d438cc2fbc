package broker

import (
	"fmt"

	"github.com/Amanpat/polysim/internal/domain"
)

// LatencyModel fixes the tick delays between issuing an order action and the
// broker honoring it. Delays are tape-seq offsets, not wall clock; zero means
// the action is eligible on the very event it was issued. Immutable after
// construction.
type LatencyModel struct {
	SubmitTicks int64
	CancelTicks int64
}

// NewLatencyModel validates the delays.
func NewLatencyModel(submitTicks, cancelTicks int64) (LatencyModel, error) {
	var problems []string
	if submitTicks < 0 {
		problems = append(problems, fmt.Sprintf("latency_ticks must be non-negative, got %d", submitTicks))
	}
	if cancelTicks < 0 {
		problems = append(problems, fmt.Sprintf("cancel_latency_ticks must be non-negative, got %d", cancelTicks))
	}
	if len(problems) > 0 {
		return LatencyModel{}, &domain.ConfigError{Problems: problems}
	}
	return LatencyModel{SubmitTicks: submitTicks, CancelTicks: cancelTicks}, nil
}

// ActivationSeq returns the seq at which an order submitted at submitSeq
// becomes active.
func (l LatencyModel) ActivationSeq(submitSeq int64) int64 {
	return submitSeq + l.SubmitTicks
}

// CancelSeq returns the seq at which a cancel issued at cancelSeq lands.
func (l LatencyModel) CancelSeq(cancelSeq int64) int64 {
	return cancelSeq + l.CancelTicks
}
