// Package models provides the record shapes kept in local collections.
package models

import "time"

// Syncable is implemented by every record kept in a local collection.
type Syncable interface {
	RecordID() string
	SetRecordID(id string)
	IsSynced() bool
	SetSynced(synced bool)
}

// Record holds the fields shared by all collection records. The client
// assigns ID at creation; Synced is false until the remote acknowledges the
// record's latest change.
type Record struct {
	ID     string `json:"id"`
	Synced bool   `json:"synced"`
}

// RecordID returns the record identifier.
func (r *Record) RecordID() string {
	return r.ID
}

// SetRecordID sets the record identifier.
func (r *Record) SetRecordID(id string) {
	r.ID = id
}

// IsSynced reports whether the record's latest change was acknowledged.
func (r *Record) IsSynced() bool {
	return r.Synced
}

// SetSynced sets the synced flag.
func (r *Record) SetSynced(synced bool) {
	r.Synced = synced
}

// Stamper is implemented by records that carry a creation time. Stamp sets
// it to now unless already set.
type Stamper interface {
	Stamp(now time.Time)
}

func stamp(t *time.Time, now time.Time) {
	if t.IsZero() {
		*t = now
	}
}

func (e *SymptomEntry) Stamp(now time.Time)   { stamp(&e.CreatedAt, now) }
func (a *Appointment) Stamp(now time.Time)    { stamp(&a.CreatedAt, now) }
func (q *CustomQuestion) Stamp(now time.Time) { stamp(&q.CreatedAt, now) }
func (m *MusicTrack) Stamp(now time.Time)     { stamp(&m.CreatedAt, now) }
func (d *Doctor) Stamp(now time.Time)         { stamp(&d.CreatedAt, now) }
func (r *Review) Stamp(now time.Time)         { stamp(&r.CreatedAt, now) }
func (f *ForumThread) Stamp(now time.Time)    { stamp(&f.Timestamp, now) }
func (c *ForumComment) Stamp(now time.Time)   { stamp(&c.Timestamp, now) }
