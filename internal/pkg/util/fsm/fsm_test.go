package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/looplab/fsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapEvent(t *testing.T) {
	boom := errors.New("boom")
	f := fsm.NewFSM("a",
		fsm.Events{{Name: "go", Src: []string{"a"}, Dst: "b"}},
		fsm.Callbacks{
			"enter_b": WrapEvent(func(context.Context, *fsm.Event) error { return boom }),
		},
	)

	err := f.Event(context.Background(), "go")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "b", f.Current())
	assert.True(t, IsRealError(err))
}

func TestErrorClassification(t *testing.T) {
	f := fsm.NewFSM("a", fsm.Events{
		{Name: "stay", Src: []string{"a"}, Dst: "a"},
		{Name: "leave", Src: []string{"b"}, Dst: "a"},
	}, nil)

	err := f.Event(context.Background(), "stay")
	assert.Error(t, err)
	assert.False(t, IsRealError(err))

	err = f.Event(context.Background(), "leave")
	assert.True(t, IsRealError(err))
	assert.True(t, IsInvalidEvent(err))

	assert.False(t, IsRealError(nil))
}
