package model

import (
	"fmt"
	"slices"
	"time"
)

// License types the upstream API accepts.
const (
	LicenseB  = "B"
	LicenseAM = "AM"
)

// ExamCenters maps upstream exam center ids to their display names.
var ExamCenters = map[int]string{
	1:  "sintdenijswestrem",
	7:  "brakel",
	8:  "eeklo",
	9:  "erembodegem",
	10: "sintniklaas",
}

// MonitorConfiguration is the scope and cadence of the polling loop.
type MonitorConfiguration struct {
	LicenseTypes     []string `json:"license_types" yaml:"license_types"`
	ExamCenterIDs    []int    `json:"exam_center_ids" yaml:"exam_center_ids"`
	SecondsInbetween int      `json:"seconds_inbetween" yaml:"seconds_inbetween"`
}

// DefaultMonitorConfiguration polls license B at center 1 every 5 minutes.
func DefaultMonitorConfiguration() MonitorConfiguration {
	return MonitorConfiguration{
		LicenseTypes:     []string{LicenseB},
		ExamCenterIDs:    []int{1},
		SecondsInbetween: 300,
	}
}

// Validate reports the first problem with c, or nil.
func (c MonitorConfiguration) Validate() error {
	if len(c.LicenseTypes) == 0 {
		return fmt.Errorf("at least one license type is required")
	}
	for _, lt := range c.LicenseTypes {
		if lt != LicenseB && lt != LicenseAM {
			return fmt.Errorf("unknown license type %q", lt)
		}
	}
	if len(c.ExamCenterIDs) == 0 {
		return fmt.Errorf("at least one exam center is required")
	}
	for _, id := range c.ExamCenterIDs {
		if _, ok := ExamCenters[id]; !ok {
			return fmt.Errorf("unknown exam center id %d", id)
		}
	}
	if c.SecondsInbetween <= 0 {
		return fmt.Errorf("seconds_inbetween must be positive, got %d", c.SecondsInbetween)
	}
	return nil
}

// Clone returns a deep copy so callers can't mutate the slices in effect.
func (c MonitorConfiguration) Clone() MonitorConfiguration {
	return MonitorConfiguration{
		LicenseTypes:     slices.Clone(c.LicenseTypes),
		ExamCenterIDs:    slices.Clone(c.ExamCenterIDs),
		SecondsInbetween: c.SecondsInbetween,
	}
}

// ExamCenterNames resolves the configured center ids to display names.
func (c MonitorConfiguration) ExamCenterNames() []string {
	names := make([]string, 0, len(c.ExamCenterIDs))
	for _, id := range c.ExamCenterIDs {
		names = append(names, ExamCenterName(id))
	}
	return names
}

// ExamCenterName returns the display name for id, or the id itself if unknown.
func ExamCenterName(id int) string {
	if name, ok := ExamCenters[id]; ok {
		return name
	}
	return fmt.Sprintf("center-%d", id)
}

// MonitorStatus is a point-in-time view of the monitor engine.
type MonitorStatus struct {
	Running          bool       `json:"running"`
	RunID            string     `json:"run_id,omitempty"`
	SecondsInbetween int        `json:"seconds_inbetween"`
	LicenseTypes     []string   `json:"license_types"`
	ExamCenters      []string   `json:"exam_centers"`
	TaskDone         *bool      `json:"task_done"`
	TotalTimeRunning string     `json:"total_time_running"`
	FirstStartedAt   *time.Time `json:"first_started_at"`
	LastStartedAt    *time.Time `json:"last_started_at"`
	LastStoppedAt    *time.Time `json:"last_stopped_at"`
	StoppedDueTo     string     `json:"stopped_due_to,omitempty"`
}
