package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chn0318/logreplica/engine"
)

func TestEnableDisableLifecycle(t *testing.T) {
	svc := NewService()
	const id engine.StreamID = 1

	enabled, err := svc.IsEnabled(id)
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, svc.Enable(id, 10, 1000))
	enabled, err = svc.IsEnabled(id)
	require.NoError(t, err)
	assert.True(t, enabled)

	ts, err := svc.GetMinUnreplayedTS(id)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), ts)

	require.NoError(t, svc.Disable(id))
	enabled, err = svc.IsEnabled(id)
	require.NoError(t, err)
	assert.False(t, enabled)

	_, err = svc.GetMinUnreplayedTS(id)
	assert.ErrorIs(t, err, ErrNotEnabled)
}

func TestAdvanceMinUnreplayedTSNeverGoesBackward(t *testing.T) {
	svc := NewService()
	const id engine.StreamID = 2

	require.NoError(t, svc.Enable(id, 0, 100))
	svc.AdvanceMinUnreplayedTS(id, 200)
	ts, err := svc.GetMinUnreplayedTS(id)
	require.NoError(t, err)
	assert.Equal(t, int64(200), ts)

	svc.AdvanceMinUnreplayedTS(id, 50)
	ts, err = svc.GetMinUnreplayedTS(id)
	require.NoError(t, err)
	assert.Equal(t, int64(200), ts)
}

func TestPendingFlag(t *testing.T) {
	svc := NewService()
	const id engine.StreamID = 3

	require.NoError(t, svc.SetSubmitLogPending(id))
	require.NoError(t, svc.EraseSubmitLogPending(id))
}
