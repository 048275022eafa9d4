package buffer

import (
	"testing"

	cerrors "github.com/c360/obdstream/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCircularBuffer_RejectsNonPositiveCapacity(t *testing.T) {
	_, err := NewCircularBuffer[int](0)
	require.Error(t, err)
	assert.True(t, cerrors.IsInvalid(err))
}

func TestCircularBufferBasicOperations(t *testing.T) {
	buf, err := NewCircularBuffer[string](3)
	require.NoError(t, err)

	buf.Write("first")
	buf.Write("second")
	buf.Write("third")

	assert.Equal(t, 3, buf.Capacity())

	item, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, "first", item)
	assert.Equal(t, 3, buf.Size(), "peek must not remove")

	item, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, "first", item)
	assert.Equal(t, []string{"second", "third"}, buf.Snapshot())
}

func TestCircularBuffer_DropOldest(t *testing.T) {
	var dropped []int
	buf, err := NewCircularBuffer[int](3, WithDropCallback[int](func(item int) {
		dropped = append(dropped, item)
	}))
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		buf.Write(i)
	}

	assert.Equal(t, []int{3, 4, 5}, buf.Snapshot())
	assert.Equal(t, []int{1, 2}, dropped)
	assert.Equal(t, int64(2), buf.Stats().Drops())
	assert.Equal(t, int64(5), buf.Stats().Writes())
	assert.Equal(t, int64(2), buf.Stats().Overflows())
}

func TestCircularBuffer_SnapshotIsACopy(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err)
	buf.Write(1)
	buf.Write(2)

	snap := buf.Snapshot()
	snap[0] = 99

	assert.Equal(t, []int{1, 2}, buf.Snapshot())
}

func TestCircularBuffer_WrapAroundSnapshotOrder(t *testing.T) {
	buf, err := NewCircularBuffer[int](3)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		buf.Write(i)
	}
	_, _ = buf.Read()
	_, _ = buf.Read()
	buf.Write(4)
	buf.Write(5)

	assert.Equal(t, []int{3, 4, 5}, buf.Snapshot())
}

func TestCircularBuffer_Clear(t *testing.T) {
	var dropped []int
	buf, err := NewCircularBuffer[int](3, WithDropCallback[int](func(item int) {
		dropped = append(dropped, item)
	}))
	require.NoError(t, err)
	buf.Write(1)
	buf.Write(2)

	assert.Equal(t, 2, buf.Clear())
	assert.Equal(t, 0, buf.Size())
	assert.Empty(t, buf.Snapshot())
	assert.Empty(t, dropped, "clearing is not an overflow")
	assert.Equal(t, int64(2), buf.Stats().MaxSize())
	assert.Equal(t, int64(0), buf.Stats().CurrentSize())

	buf.Write(3)
	assert.Equal(t, []int{3}, buf.Snapshot())
}
