package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMergeOptions_PerJobWins(t *testing.T) {
	defaults := JobOptions{
		Attempts:         3,
		Backoff:          &Backoff{Type: BackoffFixed, Delay: time.Second},
		RemoveOnComplete: true,
	}
	opts := JobOptions{
		Attempts: 5,
		Delay:    time.Minute,
	}

	merged := MergeOptions(defaults, opts)

	assert.Equal(t, 5, merged.Attempts)
	assert.Equal(t, time.Minute, merged.Delay)
	assert.True(t, merged.RemoveOnComplete)
	assert.Equal(t, defaults.Backoff, merged.Backoff)
}

func TestMergeOptions_ExplicitZeroWins(t *testing.T) {
	defaults := JobOptions{RemoveOnComplete: true, RemoveOnFail: true, Priority: 5, Delay: time.Minute, Attempts: 3}
	opts := JobOptions{}
	opts.Mark(FieldRemoveOnComplete, FieldPriority, FieldDelay)

	merged := MergeOptions(defaults, opts)

	assert.False(t, merged.RemoveOnComplete)
	assert.Zero(t, merged.Priority)
	assert.Zero(t, merged.Delay)
	// Unmarked zero fields keep the default.
	assert.True(t, merged.RemoveOnFail)
	assert.Equal(t, 3, merged.Attempts)
}

func TestMergeOptions_UnmarkedZeroKeepsDefault(t *testing.T) {
	defaults := JobOptions{RemoveOnComplete: true, Priority: 5}

	merged := MergeOptions(defaults, JobOptions{})

	assert.True(t, merged.RemoveOnComplete)
	assert.Equal(t, 5, merged.Priority)
}

func TestMergeOptions_Shallow(t *testing.T) {
	defaults := JobOptions{Backoff: &Backoff{Type: BackoffExponential, Delay: time.Second}}
	opts := JobOptions{Backoff: &Backoff{Delay: 2 * time.Second}}

	merged := MergeOptions(defaults, opts)

	// The per-job backoff replaces the default one, type included.
	assert.Equal(t, BackoffType(""), merged.Backoff.Type)
	assert.Equal(t, 2*time.Second, merged.Backoff.Delay)
}

func TestBackoff_Next(t *testing.T) {
	fixed := &Backoff{Type: BackoffFixed, Delay: time.Second}
	assert.Equal(t, time.Second, fixed.Next(1))
	assert.Equal(t, time.Second, fixed.Next(4))

	exp := &Backoff{Type: BackoffExponential, Delay: time.Second}
	assert.Equal(t, time.Second, exp.Next(1))
	assert.Equal(t, 2*time.Second, exp.Next(2))
	assert.Equal(t, 8*time.Second, exp.Next(4))

	var none *Backoff
	assert.Equal(t, time.Duration(0), none.Next(3))
}

func TestJob_MaxAttempts(t *testing.T) {
	assert.Equal(t, 1, (&Job{}).MaxAttempts())
	assert.Equal(t, 4, (&Job{Opts: JobOptions{Attempts: 4}}).MaxAttempts())
}

func TestJobCounts_Total(t *testing.T) {
	c := JobCounts{StateWaiting: 2, StateDelayed: 3, StateFailed: 1}
	assert.Equal(t, int64(6), c.Total())
}
