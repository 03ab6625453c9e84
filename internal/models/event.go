package models

import "time"

// LocalIDPrefix marks event identifiers that were minted locally because the
// external calendar was unreachable. The external service never issues ids
// with this prefix, so the prefix alone tells the engine whether a remote
// record exists.
const LocalIDPrefix = "local_"

// Event is a scheduled occurrence as stored in the calendar_events table.
// EventID is the only legal join key for updates and deletes; the numeric
// row ID exists for the database alone and must never be used to address an
// event.
type Event struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	EventID     string    `gorm:"column:event_id;uniqueIndex;not null" json:"event_id"`
	Summary     string    `gorm:"column:summary" json:"summary"`
	Description string    `gorm:"column:description" json:"description,omitempty"`
	StartISO    string    `gorm:"column:start_iso" json:"start_iso"`
	EndISO      string    `gorm:"column:end_iso" json:"end_iso"`
	CompanyName string    `gorm:"column:company_name" json:"company_name,omitempty"`
	PersonName  string    `gorm:"column:person_name" json:"person_name,omitempty"`
	ClientID    *int64    `gorm:"column:client_id" json:"client_id,omitempty"`
	Source      string    `gorm:"column:source" json:"source"`
	CalendarID  string    `gorm:"column:calendar_id" json:"calendar_id"`
	Timezone    string    `gorm:"column:timezone" json:"timezone,omitempty"`
	Status      string    `gorm:"column:status" json:"status,omitempty"`
	CreatedAt   time.Time `json:"-"`
}

func (Event) TableName() string { return "calendar_events" }

// IsLocal reports whether the event exists only in the local store.
func (e *Event) IsLocal() bool { return IsLocalID(e.EventID) }

// IsLocalID reports whether an event identifier was minted locally.
func IsLocalID(eventID string) bool {
	return len(eventID) >= len(LocalIDPrefix) && eventID[:len(LocalIDPrefix)] == LocalIDPrefix
}
