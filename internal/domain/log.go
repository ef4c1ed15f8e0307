package domain

import "time"

// Log records a completed or skipped action. Rows are never edited, only
// soft-deleted.
type Log struct {
	ID               int64
	DogID            int64
	UserID           int64
	ReminderID       *int64
	Action           ReminderAction
	CustomActionName string
	Date             time.Time
	Note             string
	IsDeleted        bool
	LastModified     time.Time
}

// Occurrence is one due instant of a reminder handed to the dispatcher.
type Occurrence struct {
	ID       string
	Reminder *Reminder
	At       time.Time
	// UserID narrows delivery to one member; zero means the whole family.
	UserID   int64
	FollowUp bool
}
