package registry

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func newTestRegistry() (*Registry, *clock.Mock) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(mock), mock
}

func TestArmFires(t *testing.T) {
	r, mock := newTestRegistry()
	var fired atomic.Int32
	key := PrimaryKey(1, 10)

	r.Arm(key, mock.Now().Add(10*time.Second), func() { fired.Add(1) })
	assert.True(t, r.Has(key))

	mock.Add(9 * time.Second)
	assert.Equal(t, int32(0), fired.Load())

	mock.Add(time.Second)
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, r.Has(key))
	assert.Equal(t, 0, r.Len())
}

func TestArmReplacesPriorTimer(t *testing.T) {
	r, mock := newTestRegistry()
	var first, second atomic.Int32
	key := PrimaryKey(1, 10)

	for i := 0; i < 5; i++ {
		r.Arm(key, mock.Now().Add(time.Minute), func() { first.Add(1) })
	}
	r.Arm(key, mock.Now().Add(2*time.Minute), func() { second.Add(1) })
	assert.Equal(t, 1, r.Len(), "at most one live timer per key")

	at, ok := r.At(key)
	assert.True(t, ok)
	assert.Equal(t, mock.Now().Add(2*time.Minute), at)

	mock.Add(3 * time.Minute)
	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestCancel(t *testing.T) {
	r, mock := newTestRegistry()
	var fired atomic.Int32
	key := PrimaryKey(1, 10)

	assert.False(t, r.Cancel(key), "absent key is a no-op")

	r.Arm(key, mock.Now().Add(time.Second), func() { fired.Add(1) })
	assert.True(t, r.Cancel(key))
	assert.False(t, r.Has(key))

	mock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestCancelMatching(t *testing.T) {
	r, mock := newTestRegistry()
	at := mock.Now().Add(time.Hour)
	noop := func() {}

	r.Arm(PrimaryKey(1, 10), at, noop)
	r.Arm(SecondaryKey(100, 10), at, noop)
	r.Arm(SecondaryKey(101, 10), at, noop)
	r.Arm(PrimaryKey(1, 11), at, noop)
	r.Arm(PrimaryKey(2, 20), at, noop)

	cancelled := r.CancelMatching(func(k Key) bool { return k.Kind == Secondary && k.ReminderID == 10 })
	assert.Equal(t, []Key{SecondaryKey(100, 10), SecondaryKey(101, 10)}, cancelled)
	assert.Equal(t, []Key{PrimaryKey(1, 10), PrimaryKey(1, 11), PrimaryKey(2, 20)}, r.Keys())

	r.Stop()
	assert.Equal(t, 0, r.Len())
}

func TestIsolatedRegistries(t *testing.T) {
	a, mock := newTestRegistry()
	b := New(mock)

	a.Arm(PrimaryKey(1, 1), mock.Now().Add(time.Hour), func() {})
	assert.True(t, a.Has(PrimaryKey(1, 1)))
	assert.False(t, b.Has(PrimaryKey(1, 1)))
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "primary/1/10", PrimaryKey(1, 10).String())
	assert.Equal(t, "secondary/7/10", SecondaryKey(7, 10).String())
}
