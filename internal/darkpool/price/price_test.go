package price

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGateAcceptsWithinDeviationAndAge(t *testing.T) {
	dialer := Report{Outcome: OutcomeNominal, Midpoint: 10.0, AgeMillis: 100}
	listener := Report{Outcome: OutcomeNominal, Midpoint: 10.1, AgeMillis: 200}

	execPrice, ok, err := Gate(dialer, listener, 0.02, 5000)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 10.0, execPrice)
}

func TestGateRejectsExcessiveDeviation(t *testing.T) {
	dialer := Report{Outcome: OutcomeNominal, Midpoint: 10.0, AgeMillis: 100}
	listener := Report{Outcome: OutcomeNominal, Midpoint: 11.0, AgeMillis: 100}

	_, ok, err := Gate(dialer, listener, 0.02, 5000)
	require.False(t, ok)
	require.ErrorIs(t, err, ErrTooMuchDeviation)
}

func TestGateRejectsStaleReport(t *testing.T) {
	dialer := Report{Outcome: OutcomeNominal, Midpoint: 10.0, AgeMillis: 6000}
	listener := Report{Outcome: OutcomeNominal, Midpoint: 10.0, AgeMillis: 100}

	_, ok, err := Gate(dialer, listener, 0.02, 5000)
	require.False(t, ok)
	require.ErrorIs(t, err, ErrTooStale)
}

func TestGatePropagatesNotEnoughData(t *testing.T) {
	dialer := Report{Outcome: OutcomeNotEnoughData}
	listener := Report{Outcome: OutcomeNominal, Midpoint: 10.0, AgeMillis: 100}

	_, ok, err := Gate(dialer, listener, 0.02, 5000)
	require.False(t, ok)
	require.ErrorIs(t, err, ErrNotEnoughData)
}
