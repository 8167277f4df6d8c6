package models

import (
	"math"
	"time"
)

// Doctor is a directory entry. Reviews are embedded most-recent-first.
type Doctor struct {
	Record
	Name              string    `json:"name"`
	Specialty         string    `json:"specialty"`
	Location          string    `json:"location"`
	City              string    `json:"city"`
	State             string    `json:"state"`
	ZipCode           string    `json:"zipCode"`
	Contact           string    `json:"contact,omitempty"`
	Rating            float64   `json:"rating"`
	ReviewCount       int       `json:"reviewCount"`
	Reviews           []Review  `json:"reviews"`
	AcceptingPatients bool      `json:"acceptingPatients"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Review is a patient review of a doctor.
type Review struct {
	Record
	DoctorID        string    `json:"doctorId"`
	UserID          string    `json:"userId"`
	UserDisplayName string    `json:"userDisplayName"`
	UserAvatar      string    `json:"userAvatar,omitempty"`
	Rating          float64   `json:"rating"`
	Text            string    `json:"text"`
	Tags            []string  `json:"tags"`
	CreatedAt       time.Time `json:"createdAt"`
}

// RecomputeRating sets Rating to the mean review rating rounded to one
// decimal, and ReviewCount to the number of reviews.
func (d *Doctor) RecomputeRating() {
	d.ReviewCount = len(d.Reviews)
	if d.ReviewCount == 0 {
		d.Rating = 0
		return
	}
	var sum float64
	for _, r := range d.Reviews {
		sum += r.Rating
	}
	d.Rating = math.Round(sum/float64(d.ReviewCount)*10) / 10
}
