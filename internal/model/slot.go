package model

import "time"

// SlotStatus is the lifecycle state of a persisted exam time slot.
type SlotStatus string

const (
	SlotNotified SlotStatus = "notified"
	SlotTaken    SlotStatus = "taken"
)

// ExamTimeSlot is one bookable exam appointment as first seen upstream.
// FirstTakenAt is written once and never overwritten.
type ExamTimeSlot struct {
	ID            int64      `json:"id"`
	ExamID        int64      `json:"exam_id"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	Status        SlotStatus `json:"status"`
	FirstFoundAt  time.Time  `json:"first_found_at"`
	FirstTakenAt  *time.Time `json:"first_taken_at"`
	FoundAt       time.Time  `json:"found_at"`
	TakenAt       *time.Time `json:"taken_at"`
	ExamCenterID  int        `json:"exam_center_id"`
	TypesBlob     []string   `json:"types_blob"`
	IsPublic      *bool      `json:"is_public"`
	DayScheduleID *int64     `json:"day_schedule_id"`
	DrivingSchool *string    `json:"driving_school"`
	ExamType      *string    `json:"exam_type"`
	Examinee      *string    `json:"examinee"`
}

// SlotEvent describes a single slot transition within a scope.
type SlotEvent struct {
	ExamID       int64      `json:"exam_id"`
	ExamCenterID int        `json:"exam_center_id"`
	LicenseType  string     `json:"license_type"`
	Status       SlotStatus `json:"status"`
	StartTime    time.Time  `json:"start_time,omitempty"`
	EndTime      time.Time  `json:"end_time,omitempty"`
	At           time.Time  `json:"at"`
}
