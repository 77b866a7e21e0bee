package domain

import "time"

type AssignmentStatus string

const (
	AssignmentRequestSent AssignmentStatus = "Request Sent"
	AssignmentAccepted    AssignmentStatus = "Accepted"
	AssignmentCompleted   AssignmentStatus = "Completed"
)

func (s AssignmentStatus) Terminal() bool {
	return s == AssignmentCompleted
}

type LocationPoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Area      string    `json:"area"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Assignment binds an order to the salesman fulfilling it. At most one
// non-terminal assignment exists per order; the tracking id is generated
// exactly once, at acceptance.
type Assignment struct {
	ID                 string           `json:"id"`
	OrderID            string           `json:"order_id"`
	SalesmanID         string           `json:"salesman_id"`
	AssignedBy         string           `json:"assigned_by"`
	Status             AssignmentStatus `json:"status"`
	TrackingID         string           `json:"tracking_id,omitempty"`
	Area               string           `json:"area,omitempty"`
	Latitude           float64          `json:"latitude,omitempty"`
	Longitude          float64          `json:"longitude,omitempty"`
	AcceptedTime       *time.Time       `json:"accepted_time,omitempty"`
	LocationUpdateTime *time.Time       `json:"location_update_time,omitempty"`
	LocationHistory    []LocationPoint  `json:"location_history,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}
