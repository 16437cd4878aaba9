package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent_JobEvent(t *testing.T) {
	// Shape published by the redis scripts.
	raw := []byte(`{"event":"completed","queue":"mail","jobId":"7","prev":"active","returnvalue":"{\"ok\":true}","ts":1700000000000}`)

	e, err := DecodeEvent(raw)
	require.NoError(t, err)

	je, ok := e.(*JobEvent)
	require.True(t, ok)
	assert.Equal(t, EventCompleted, je.Kind())
	assert.Equal(t, "mail", je.Queue)
	assert.Equal(t, "7", je.JobID)
	assert.Equal(t, StateActive, je.Prev)
	assert.JSONEq(t, `{"ok":true}`, string(je.ReturnValue))
	assert.Equal(t, int64(1700000000000), je.Timestamp.UnixMilli())
}

func TestDecodeEvent_QueueEvent(t *testing.T) {
	e, err := DecodeEvent([]byte(`{"event":"cleaned","queue":"mail","count":3,"ts":1.7e+12}`))
	require.NoError(t, err)

	qe, ok := e.(*QueueEvent)
	require.True(t, ok)
	assert.Equal(t, EventCleaned, qe.Kind())
	assert.Equal(t, 3, qe.Count)
	assert.Equal(t, int64(1700000000000), qe.Timestamp.UnixMilli())
}

func TestDecodeEvent_Invalid(t *testing.T) {
	_, err := DecodeEvent([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`{"queue":"mail"}`))
	assert.Error(t, err)
}

func TestEncodeEvent_RoundTrip(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	in := &JobEvent{
		Type:         EventRetrying,
		Queue:        "mail",
		JobID:        "3",
		FailedReason: "smtp timeout",
		Delay:        2 * time.Second,
		Timestamp:    ts,
	}

	data, err := EncodeEvent(in)
	require.NoError(t, err)

	out, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
