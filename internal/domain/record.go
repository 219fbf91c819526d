package domain

import "time"

// Record holds the identity and timestamps shared by every persisted entity.
type Record struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// InitTimestamps sets both CreatedAt and UpdatedAt to now.
func (r *Record) InitTimestamps(now time.Time) {
	r.CreatedAt = now
	r.UpdatedAt = now
}

// Touch moves UpdatedAt to now. Call it whenever the entity changes.
func (r *Record) Touch(now time.Time) {
	r.UpdatedAt = now
}
