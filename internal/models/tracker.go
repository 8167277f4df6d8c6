package models

import "time"

// SymptomEntry is one daily tracker entry.
type SymptomEntry struct {
	Record
	UserID       string    `json:"userId"`
	Date         string    `json:"date"`
	Mood         string    `json:"mood"`
	DietNotes    string    `json:"dietNotes"`
	PainLevel    int       `json:"painLevel"`
	PainLocation string    `json:"painLocation"`
	Notes        string    `json:"notes"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Appointment is a calendar entry.
type Appointment struct {
	Record
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Notes     string    `json:"notes"`
	Reminder  bool      `json:"reminder"`
	CreatedAt time.Time `json:"createdAt"`
}

// CustomQuestion is a question the user wants to ask at an appointment.
type CustomQuestion struct {
	Record
	UserID    string    `json:"userId"`
	Question  string    `json:"question"`
	CreatedAt time.Time `json:"createdAt"`
}

// MusicTrack is a user-added song.
type MusicTrack struct {
	Record
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}
