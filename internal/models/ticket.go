package models

import "time"

// Lane is one independently queued imaging modality.
type Lane string

const (
	LaneXRay       Lane = "xray"
	LaneUltrasound Lane = "ultrasound"
	LaneCTScan     Lane = "ct_scan"
	LaneMRI        Lane = "mri"
)

// Lanes returns every service lane in display order.
func Lanes() []Lane {
	return []Lane{LaneXRay, LaneUltrasound, LaneCTScan, LaneMRI}
}

func ParseLane(value string) (Lane, bool) {
	switch Lane(value) {
	case LaneXRay, LaneUltrasound, LaneCTScan, LaneMRI:
		return Lane(value), true
	default:
		return "", false
	}
}

const (
	StatusWaiting   = "waiting"
	StatusCurrent   = "current"
	StatusPostponed = "postponed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// EmergencyClass elevates a ticket in serving order. ClassEmergency
// additionally claims the current slot at creation when it is free.
type EmergencyClass string

const (
	ClassNone      EmergencyClass = "none"
	ClassUrgent    EmergencyClass = "urgent"
	ClassCritical  EmergencyClass = "critical"
	ClassEmergency EmergencyClass = "emergency"
)

func ParseEmergencyClass(value string) (EmergencyClass, bool) {
	switch EmergencyClass(value) {
	case "":
		return ClassNone, true
	case ClassNone, ClassUrgent, ClassCritical, ClassEmergency:
		return EmergencyClass(value), true
	default:
		return "", false
	}
}

func (c EmergencyClass) IsEmergency() bool {
	return c != ClassNone && c != ""
}

// PostponeLimit is the number of postponements that cancels a ticket.
const PostponeLimit = 5

// DateFormat is the service-day key used throughout the store.
const DateFormat = "2006-01-02"

// ServiceDay reduces a timestamp to the service day it belongs to.
func ServiceDay(t time.Time) string {
	return t.UTC().Format(DateFormat)
}

type Ticket struct {
	TicketID        string         `json:"ticket_id"`
	Lane            Lane           `json:"lane"`
	Number          int            `json:"ticket_number"`
	Status          string         `json:"status"`
	PostponeCount   int            `json:"postpone_count"`
	EmergencyClass  EmergencyClass `json:"emergency_class"`
	EmergencyReason string         `json:"emergency_reason,omitempty"`
	PatientName     string         `json:"patient_name,omitempty"`
	PatientPhone    string         `json:"patient_phone,omitempty"`
	Date            string         `json:"date"`
	CreatedAt       time.Time      `json:"created_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	AccessToken     string         `json:"access_token,omitempty"`
}

// Terminal reports whether the ticket can no longer change state.
func (t Ticket) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusCancelled
}

// DaySettings holds the randomized per-lane starting numbers for one
// service day. Generated once, stable until the day is reset.
type DaySettings struct {
	Date         string       `json:"date"`
	StartNumbers map[Lane]int `json:"start_numbers"`
}

const (
	// Randomized daily seed bounds, inclusive.
	StartNumberMin = 1
	StartNumberMax = 50
)
