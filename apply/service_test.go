package apply

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chn0318/logreplica/engine"
)

func TestServiceGetApplyStatusCreatesAndReuses(t *testing.T) {
	svc := NewService()
	const id engine.StreamID = 1

	st1 := svc.GetApplyStatus(id)
	st2 := svc.GetApplyStatus(id)
	assert.Same(t, st1, st2)

	svc.RevertApplyStatus(id, st1)
	st3 := svc.GetApplyStatus(id)
	// Still alive: st2 holds a reference.
	assert.Same(t, st2, st3)
}

func TestServiceRevertRemovesOnLastRef(t *testing.T) {
	svc := NewService()
	const id engine.StreamID = 2

	st := svc.GetApplyStatus(id)
	svc.RevertApplyStatus(id, st)

	_, err := svc.GetMinUnappliedTS(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetMinUnappliedTS(t *testing.T) {
	svc := NewService()
	const id engine.StreamID = 3

	st := svc.GetApplyStatus(id)
	st.SetMinUnappliedTS(123)

	ts, err := svc.GetMinUnappliedTS(id)
	require.NoError(t, err)
	assert.Equal(t, int64(123), ts)
}
