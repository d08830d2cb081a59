package sbat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrBadTimestamp = errors.New("unrecognized slot timestamp")

// Slot is one entry of the availability response.
type Slot struct {
	ID            int64        `json:"id"`
	From          string       `json:"from"`
	Till          string       `json:"till"`
	IsPublic      *bool        `json:"isPublic"`
	DayScheduleID *int64       `json:"dayScheduleId"`
	DrivingSchool *string      `json:"drivingSchool"`
	ExamCenterID  int          `json:"examCenterId"`
	ExamType      *string      `json:"examType"`
	Examinee      *string      `json:"examinee"`
	TypesBlob     LicenseTypes `json:"typesBlob"`
}

// LicenseTypes is the license membership of a slot. The upstream sends it
// as a JSON-encoded string, e.g. "[\"B\",\"AM\"]"; a bare array is also
// accepted.
type LicenseTypes []string

func (l *LicenseTypes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return err
		}
		data = []byte(encoded)
		if len(bytes.TrimSpace(data)) == 0 {
			*l = nil
			return nil
		}
	}

	var types []string
	if err := json.Unmarshal(data, &types); err != nil {
		return fmt.Errorf("decode typesBlob: %w", err)
	}
	*l = types
	return nil
}

// Upstream timestamps are local wall-clock times, with or without seconds.
var timeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339,
	time.RFC3339Nano,
}

// ParseTime decodes an upstream slot timestamp.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
}

// Times returns the parsed start and end of the slot.
func (s Slot) Times() (start, end time.Time, err error) {
	if start, err = ParseTime(s.From); err != nil {
		return
	}
	end, err = ParseTime(s.Till)
	return
}

// Line renders the slot for a notification message, e.g.
// "2024-01-01 10:00:00 - 11:00:00".
func Line(start, end time.Time) string {
	return fmt.Sprintf("%s %s - %s",
		start.Format("2006-01-02"), start.Format("15:04:05"), end.Format("15:04:05"))
}
