package domain

import "time"

// SLADefinition is the catalog entry keyed by (category, priority).
type SLADefinition struct {
	ID                  string
	Category            string
	Priority            Priority
	ResponseTimeHours   float64
	ResolutionTimeHours float64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Deadlines computes response and resolution deadlines for an item assigned at from.
func (d SLADefinition) Deadlines(from time.Time) (response, resolution time.Time) {
	response = from.Add(hours(d.ResponseTimeHours))
	resolution = from.Add(hours(d.ResolutionTimeHours))
	return response, resolution
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
