package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-flow-queue/pkg/core"
	"github.com/jdziat/simple-flow-queue/pkg/security"
)

func TestSchedules_Next(t *testing.T) {
	monday := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(day, hour, minute int) time.Time {
		return time.Date(2024, 1, day, hour, minute, 0, 0, time.UTC)
	}

	tests := []struct {
		name     string
		schedule Schedule
		from     time.Time
		want     time.Time
	}{
		{"every", Every(time.Hour), at(1, 12, 0), at(1, 13, 0)},
		{"daily later today", Daily(9, 30), at(1, 8, 0), at(1, 9, 30)},
		{"daily tomorrow", Daily(9, 30), at(1, 10, 0), at(2, 9, 30)},
		{"weekly same day", Weekly(time.Monday, 10, 0), monday, at(1, 10, 0)},
		{"weekly next week", Weekly(time.Monday, 10, 0), at(1, 11, 0), at(8, 10, 0)},
		{"weekly other day", Weekly(time.Friday, 17, 0), monday, at(5, 17, 0)},
		{"cron daily", Cron("0 9 * * *"), at(1, 8, 0), at(1, 9, 0)},
		{"cron weekdays", Cron("30 14 * * 1-5"), at(6, 15, 0), at(8, 14, 30)},
		{"cron every minute", Cron("* * * * *"), at(1, 8, 0).Add(15 * time.Second), at(1, 8, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.schedule.Next(tt.from))
		})
	}
}

func TestEvery_Chains(t *testing.T) {
	s := Every(10 * time.Minute)
	next := time.Date(2024, 1, 1, 23, 50, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		next = s.Next(next)
	}
	assert.Equal(t, time.Date(2024, 1, 2, 0, 20, 0, 0, time.UTC), next)
}

func TestCron_InvalidExpression_Panics(t *testing.T) {
	assert.Panics(t, func() {
		Cron("invalid cron")
	})
}

func TestParseCron_Invalid(t *testing.T) {
	_, err := ParseCron("61 * * * *")
	assert.Error(t, err)
}

func TestFromRepeat(t *testing.T) {
	from := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	every, err := FromRepeat(&core.Repeat{Every: 10 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, from.Add(10*time.Second), every.Next(from))

	pattern, err := FromRepeat(&core.Repeat{Pattern: "0 9 * * *"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), pattern.Next(from))
}

func TestFromRepeat_Invalid(t *testing.T) {
	cases := map[string]*core.Repeat{
		"nil":     nil,
		"neither": {},
		"both":    {Pattern: "* * * * *", Every: time.Minute},
		"bad":     {Pattern: "nope"},
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromRepeat(r)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
}

func TestRepeatKey(t *testing.T) {
	assert.Equal(t, "report:0 9 * * *", RepeatKey("report", &core.Repeat{Pattern: "0 9 * * *"}))
	assert.Equal(t, "tick:1m0s", RepeatKey("tick", &core.Repeat{Every: time.Minute}))
	assert.Equal(t, "custom", RepeatKey("tick", &core.Repeat{Every: time.Minute, Key: "custom"}))
}

func TestIterationID_IsValidJobID(t *testing.T) {
	runAt := time.UnixMilli(1700000000000)
	id := IterationID("report:0 9 * * *", runAt)

	assert.Equal(t, id, IterationID("report:0 9 * * *", runAt))
	assert.NotEqual(t, id, IterationID("report:0 9 * * *", runAt.Add(time.Minute)))
	assert.NoError(t, security.ValidateJobID(id))
}
