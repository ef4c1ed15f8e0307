// Package registry keeps the in-process table of armed reminder timers.
// Nothing in it is durable; it is rebuilt from the store on start.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tazhate/hound/internal/metrics"
)

type Kind uint8

const (
	// Primary is the family-wide alarm of a reminder.
	Primary Kind = iota
	// Secondary is a per-user escalation alarm.
	Secondary
)

func (k Kind) String() string {
	if k == Secondary {
		return "secondary"
	}
	return "primary"
}

// Key identifies one timer. OwnerID is the family for primary keys and the
// user for secondary keys.
type Key struct {
	Kind       Kind
	OwnerID    int64
	ReminderID int64
}

func PrimaryKey(familyID, reminderID int64) Key {
	return Key{Kind: Primary, OwnerID: familyID, ReminderID: reminderID}
}

func SecondaryKey(userID, reminderID int64) Key {
	return Key{Kind: Secondary, OwnerID: userID, ReminderID: reminderID}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%d", k.Kind, k.OwnerID, k.ReminderID)
}

type job struct {
	timer *clock.Timer
	at    time.Time
	gen   uint64
}

type Registry struct {
	clock clock.Clock

	mu   sync.Mutex
	jobs map[Key]*job
	gen  uint64
}

func New(c clock.Clock) *Registry {
	if c == nil {
		c = clock.New()
	}
	return &Registry{clock: c, jobs: make(map[Key]*job)}
}

// Arm installs a timer calling fn at the given instant, replacing any timer
// already held under key. fn runs on its own goroutine and only if the timer
// was not cancelled or replaced in the meantime.
func (r *Registry) Arm(key Key, at time.Time, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelLocked(key)

	r.gen++
	gen := r.gen
	j := &job{at: at, gen: gen}
	j.timer = r.clock.AfterFunc(at.Sub(r.clock.Now()), func() {
		if r.take(key, gen) {
			fn()
		}
	})
	r.jobs[key] = j
	metrics.ArmedJobs.Set(float64(len(r.jobs)))
}

// take removes the job if it is still the one armed under gen.
func (r *Registry) take(key Key, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[key]
	if !ok || j.gen != gen {
		return false
	}
	delete(r.jobs, key)
	metrics.ArmedJobs.Set(float64(len(r.jobs)))
	return true
}

// Cancel stops the timer under key. It reports whether one was armed; an
// absent key is not an error.
func (r *Registry) Cancel(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelLocked(key)
}

func (r *Registry) cancelLocked(key Key) bool {
	j, ok := r.jobs[key]
	if !ok {
		return false
	}
	j.timer.Stop()
	delete(r.jobs, key)
	metrics.ArmedJobs.Set(float64(len(r.jobs)))
	return true
}

// CancelMatching cancels every timer whose key satisfies match and returns
// the cancelled keys.
func (r *Registry) CancelMatching(match func(Key) bool) []Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cancelled []Key
	for key := range r.jobs {
		if match(key) {
			r.cancelLocked(key)
			cancelled = append(cancelled, key)
		}
	}
	sortKeys(cancelled)
	return cancelled
}

func (r *Registry) Has(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[key]
	return ok
}

// At returns the instant the timer under key is armed for.
func (r *Registry) At(key Key) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[key]
	if !ok {
		return time.Time{}, false
	}
	return j.at, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Keys returns a sorted snapshot of the armed keys.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]Key, 0, len(r.jobs))
	for key := range r.jobs {
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys
}

// Stop cancels every timer.
func (r *Registry) Stop() {
	r.CancelMatching(func(Key) bool { return true })
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.OwnerID != b.OwnerID {
			return a.OwnerID < b.OwnerID
		}
		return a.ReminderID < b.ReminderID
	})
}
