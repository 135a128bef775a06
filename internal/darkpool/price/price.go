// Package price models the external price-reporter dependency the
// handshake executor's "agree price" step consumes. The reporter itself
// (exchange websocket feeds, median aggregation) is out of scope; this
// package only defines the interface and the outcome values the executor
// switches on.
package price

import (
	"errors"
	"fmt"
)

// Outcome tags peek_median's result, matching §4.6's "accept only if both
// midpoints lie within MAX_DEVIATION and neither is older than
// MAX_REPORT_AGE_MS" gate.
type Outcome int

const (
	OutcomeNominal Outcome = iota
	OutcomeNotEnoughData
	OutcomeTooStale
	OutcomeTooMuchDeviation
)

// Report is a pair's latest median price observation.
type Report struct {
	Outcome   Outcome
	Midpoint  float64
	AgeMillis int64
	Deviation float64
}

var (
	ErrNotEnoughData   = errors.New("price: not enough data")
	ErrTooStale        = errors.New("price: report too stale")
	ErrTooMuchDeviation = errors.New("price: exchange sources deviate too much")
)

// AsError converts a non-nominal outcome into its sentinel error, or nil
// for OutcomeNominal.
func (r Report) AsError() error {
	switch r.Outcome {
	case OutcomeNominal:
		return nil
	case OutcomeNotEnoughData:
		return ErrNotEnoughData
	case OutcomeTooStale:
		return fmt.Errorf("%w: %dms old", ErrTooStale, r.AgeMillis)
	case OutcomeTooMuchDeviation:
		return fmt.Errorf("%w: %.4f", ErrTooMuchDeviation, r.Deviation)
	default:
		return fmt.Errorf("price: unknown outcome %d", r.Outcome)
	}
}

// Feed is the interface the handshake executor consumes to agree a price
// before brokering an MPC net.
type Feed interface {
	PeekMedian(baseMint, quoteMint string) (Report, error)
}

// SentAtMs reconstructs the unix-ms wall-clock timestamp this report was
// produced, given the age recorded when it was peeked and the local
// clock's current reading. Used to carry a report's staleness across the
// wire as an absolute timestamp rather than an age that goes stale in
// transit.
func (r Report) SentAtMs(nowMs int64) int64 {
	return nowMs - r.AgeMillis
}

// AgeMillisSince computes the elapsed time since sentAtMs against nowMs,
// clamped to zero so minor clock skew between peers can't manufacture a
// negative age.
func AgeMillisSince(sentAtMs, nowMs int64) int64 {
	if d := nowMs - sentAtMs; d > 0 {
		return d
	}
	return 0
}

// Gate evaluates the §4.6 acceptance window against two independently
// fetched reports (one per party), returning the accepted execution price
// (the dialer's midpoint) and whether the pair may proceed.
func Gate(dialerReport, listenerReport Report, maxDeviationFraction float64, maxAgeMillis int64) (executionPrice float64, ok bool, err error) {
	if err := dialerReport.AsError(); err != nil {
		return 0, false, err
	}
	if err := listenerReport.AsError(); err != nil {
		return 0, false, err
	}
	if dialerReport.AgeMillis > maxAgeMillis || listenerReport.AgeMillis > maxAgeMillis {
		return 0, false, fmt.Errorf("%w: dialer %dms, listener %dms (max %dms)", ErrTooStale, dialerReport.AgeMillis, listenerReport.AgeMillis, maxAgeMillis)
	}

	deviation := relativeDeviation(dialerReport.Midpoint, listenerReport.Midpoint)
	if deviation > maxDeviationFraction {
		return 0, false, fmt.Errorf("%w: %.4f > %.4f", ErrTooMuchDeviation, deviation, maxDeviationFraction)
	}

	return dialerReport.Midpoint, true, nil
}

func relativeDeviation(a, b float64) float64 {
	if a == 0 && b == 0 {
		return 0
	}
	denom := a
	if denom == 0 {
		denom = b
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	if denom < 0 {
		denom = -denom
	}
	return diff / denom
}
