package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhate/hound/internal/storage"
)

type fakePurger struct {
	res   storage.PurgeResult
	err   error
	calls int
}

func (f *fakePurger) Purge(context.Context) (storage.PurgeResult, error) {
	f.calls++
	return f.res, f.err
}

func TestRunPurge(t *testing.T) {
	p := &fakePurger{res: storage.PurgeResult{Reminders: 2, Dogs: 1}}
	res, err := RunPurge(context.Background(), p, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Total())

	p.err = errors.New("locked")
	_, err = RunPurge(context.Background(), p, zerolog.Nop())
	assert.Error(t, err)
	assert.Equal(t, 2, p.calls)
}

func TestMaintenanceRejectsBadSchedule(t *testing.T) {
	h := newHarness(t, Config{})
	m := NewMaintenance(MaintenanceConfig{PurgeSchedule: "nightly", ReconcileSchedule: "*/15 * * * *"}, h.sched, &fakePurger{})
	assert.Error(t, m.Start(context.Background()))
}

func TestMaintenanceStartStop(t *testing.T) {
	h := newHarness(t, Config{StoreTimeout: time.Second})
	m := NewMaintenance(MaintenanceConfig{PurgeSchedule: "0 4 * * *", ReconcileSchedule: "*/15 * * * *"}, h.sched, &fakePurger{})
	require.NoError(t, m.Start(context.Background()))
	m.Stop()
}
