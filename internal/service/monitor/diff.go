package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/model"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/service/notify"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/service/sbat"
)

const bookingLink = "https://rijbewijs.sbat.be/praktijk/examen/Login"

// reconcile diffs one scope's availability against the slots already
// announced for it. New and reappeared slots are announced; announced slots
// missing from the response are marked taken. A slot is recorded as
// notified only after its message was dispatched, so a failed dispatch is
// retried on the next sweep.
func (m *Monitor) reconcile(ctx context.Context, center int, licenseType string, slots []sbat.Slot) error {
	now := m.now()

	notified, err := m.slots.NotifiedIDs(ctx, center, licenseType)
	if err != nil {
		return fmt.Errorf("load notified slots: %w", err)
	}

	type freshSlot struct {
		slot       sbat.Slot
		start, end time.Time
	}
	current := make(map[int64]struct{}, len(slots))
	var fresh []freshSlot
	var lines []string
	for _, s := range slots {
		if _, dup := current[s.ID]; dup {
			continue
		}
		current[s.ID] = struct{}{}
		if _, ok := notified[s.ID]; ok {
			continue
		}

		start, end, err := s.Times()
		if err != nil {
			slog.Warn("skipping time slot", "exam_id", s.ID, "error", err)
			continue
		}
		fresh = append(fresh, freshSlot{slot: s, start: start, end: end})

		line := sbat.Line(start, end)
		if !slices.Contains(lines, line) {
			lines = append(lines, line)
		}
	}

	if len(fresh) > 0 {
		if err := m.dispatch(ctx, center, licenseType, lines); err != nil {
			return err
		}
		for _, f := range fresh {
			if err := m.announce(ctx, center, licenseType, f.slot); err != nil {
				return err
			}
			m.publish(ctx, model.SlotEvent{
				ExamID:       f.slot.ID,
				ExamCenterID: center,
				LicenseType:  licenseType,
				Status:       model.SlotNotified,
				StartTime:    f.start,
				EndTime:      f.end,
				At:           now,
			})
		}
	}

	for id := range notified {
		if _, ok := current[id]; ok {
			continue
		}
		if err := m.slots.SetStatus(ctx, id, model.SlotTaken, now); err != nil {
			return fmt.Errorf("mark slot %d taken: %w", id, err)
		}
		m.publish(ctx, model.SlotEvent{
			ExamID:       id,
			ExamCenterID: center,
			LicenseType:  licenseType,
			Status:       model.SlotTaken,
			At:           now,
		})
	}
	return nil
}

// announce records s as notified for the scope.
func (m *Monitor) announce(ctx context.Context, center int, licenseType string, s sbat.Slot) error {
	now := m.now()

	existing, err := m.slots.FindByExamID(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("find slot %d: %w", s.ID, err)
	}

	switch {
	case existing == nil:
		slot, err := newSlot(s, center, licenseType)
		if err != nil {
			return err
		}
		slot.FirstFoundAt = now
		slot.FoundAt = now
		if err := m.slots.Create(ctx, slot); err != nil {
			return fmt.Errorf("create slot %d: %w", s.ID, err)
		}
	case existing.Status == model.SlotTaken:
		if err := m.slots.SetStatus(ctx, s.ID, model.SlotNotified, now); err != nil {
			return fmt.Errorf("mark slot %d notified: %w", s.ID, err)
		}
		if !slices.Contains(existing.TypesBlob, licenseType) {
			if err := m.slots.AttachLicenseType(ctx, s.ID, licenseType); err != nil {
				return fmt.Errorf("attach license type to slot %d: %w", s.ID, err)
			}
		}
	default:
		// Already announced under another scope.
		if err := m.slots.AttachLicenseType(ctx, s.ID, licenseType); err != nil {
			return fmt.Errorf("attach license type to slot %d: %w", s.ID, err)
		}
	}
	return nil
}

func (m *Monitor) dispatch(ctx context.Context, center int, licenseType string, lines []string) error {
	subject := fmt.Sprintf(
		"New driving exam time slots available for license type '%s' at exam center '%s':",
		licenseType, model.ExamCenterName(center))

	var body strings.Builder
	body.WriteString(subject)
	body.WriteString("\nLink: " + bookingLink + " \n")
	for _, line := range lines {
		body.WriteString(line)
		body.WriteString("\n")
	}

	to, err := m.subscribers.Recipients(ctx, center, licenseType)
	if err != nil {
		return fmt.Errorf("resolve recipients: %w", err)
	}
	slog.Info("new time slots found",
		"center", model.ExamCenterName(center), "license_type", licenseType,
		"slots", len(lines), "emails", len(to.Emails),
		"telegram", len(to.TelegramIDs), "discord", len(to.DiscordIDs))

	m.notifier.Notify(ctx, notify.Message{Subject: subject, Body: body.String()}, to)
	return nil
}

func (m *Monitor) publish(ctx context.Context, ev model.SlotEvent) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, ev); err != nil {
		slog.Warn("failed to publish slot event", "exam_id", ev.ExamID, "status", ev.Status, "error", err)
	}
}

func newSlot(s sbat.Slot, center int, licenseType string) (*model.ExamTimeSlot, error) {
	start, end, err := s.Times()
	if err != nil {
		return nil, err
	}
	types := append([]string(nil), s.TypesBlob...)
	if !slices.Contains(types, licenseType) {
		types = append(types, licenseType)
	}
	examCenter := s.ExamCenterID
	if examCenter == 0 {
		examCenter = center
	}
	return &model.ExamTimeSlot{
		ExamID:        s.ID,
		StartTime:     start,
		EndTime:       end,
		Status:        model.SlotNotified,
		ExamCenterID:  examCenter,
		TypesBlob:     types,
		IsPublic:      s.IsPublic,
		DayScheduleID: s.DayScheduleID,
		DrivingSchool: s.DrivingSchool,
		ExamType:      s.ExamType,
		Examinee:      s.Examinee,
	}, nil
}
