package domain

import "time"

// Family is the sharing group that owns users and dogs. Pause is scoped here.
type Family struct {
	ID          int64
	Name        string
	IsPaused    bool
	LastPause   *time.Time
	LastUnpause *time.Time
	CreatedAt   time.Time
}

// PauseState returns the family pause bookkeeping used by the calculator.
func (f *Family) PauseState() PauseState {
	if f == nil {
		return PauseState{}
	}
	p := PauseState{Paused: f.IsPaused}
	if f.LastPause != nil {
		p.LastPause = *f.LastPause
	}
	if f.LastUnpause != nil {
		p.LastUnpause = *f.LastUnpause
	}
	return p
}

// PauseState is the family pause window as seen by recurrence math.
type PauseState struct {
	Paused      bool
	LastPause   time.Time
	LastUnpause time.Time
}

// ClosedWindow returns the most recent completed pause window, if any.
func (p PauseState) ClosedWindow() (from, to time.Time, ok bool) {
	if p.Paused || p.LastPause.IsZero() || p.LastUnpause.IsZero() {
		return time.Time{}, time.Time{}, false
	}
	if !p.LastUnpause.After(p.LastPause) {
		return time.Time{}, time.Time{}, false
	}
	return p.LastPause, p.LastUnpause, true
}

type User struct {
	ID                   int64
	FamilyID             int64
	Name                 string
	NotificationToken    string
	NotificationsEnabled bool
	LastSynchronization  *time.Time
	CreatedAt            time.Time
}

// Notifiable reports whether a push can be addressed to the user.
func (u *User) Notifiable() bool {
	return u.NotificationsEnabled && u.NotificationToken != ""
}

type Dog struct {
	ID           int64
	FamilyID     int64
	Name         string
	IsDeleted    bool
	LastModified time.Time
}
