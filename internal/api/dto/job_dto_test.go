package dto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

func TestJobOptionsRequest_ExplicitFalseOverridesDefault(t *testing.T) {
	var req JobOptionsRequest
	require.NoError(t, json.Unmarshal([]byte(`{"remove_on_complete":false}`), &req))

	defaults := core.JobOptions{RemoveOnComplete: true, RemoveOnFail: true}
	merged := core.MergeOptions(defaults, req.ToCore())

	assert.False(t, merged.RemoveOnComplete)
	assert.True(t, merged.RemoveOnFail, "absent flags keep the default")
}

func TestJobOptionsRequest_Backoff(t *testing.T) {
	req := JobOptionsRequest{Backoff: &BackoffRequest{DelayMs: 250}}

	opts := req.ToCore()
	require.NotNil(t, opts.Backoff)
	assert.Equal(t, core.BackoffFixed, opts.Backoff.Type)
	assert.Equal(t, int64(250), opts.Backoff.Delay.Milliseconds())
}
