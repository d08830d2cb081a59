package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/model"
)

const slotColumns = `id, exam_id, start_time, end_time, status, first_found_at,
	first_taken_at, found_at, taken_at, exam_center_id, types_blob, is_public,
	day_schedule_id, driving_school, exam_type, examinee`

const (
	// first_taken_at records only the first time a slot was taken.
	markTakenQuery = `UPDATE slots SET status = $2, taken_at = $3,
		first_taken_at = COALESCE(first_taken_at, $3)
		WHERE exam_id = $1`
	markNotifiedQuery = `UPDATE slots SET status = $2, found_at = $3 WHERE exam_id = $1`

	notifiedIDsQuery = `SELECT exam_id FROM slots
		WHERE status = $1 AND exam_center_id = $2 AND $3 = ANY(types_blob)`
)

type SlotRepository struct {
	pool *pgxpool.Pool
}

func NewSlotRepository(pool *pgxpool.Pool) *SlotRepository {
	return &SlotRepository{pool: pool}
}

// Create inserts a slot first seen upstream. It returns ErrDuplicate if the
// exam id is already stored.
func (r *SlotRepository) Create(ctx context.Context, s *model.ExamTimeSlot) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO slots
			(exam_id, start_time, end_time, status, first_found_at, found_at,
			 exam_center_id, types_blob, is_public, day_schedule_id,
			 driving_school, exam_type, examinee)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id`,
		s.ExamID, s.StartTime, s.EndTime, string(s.Status), s.FirstFoundAt, s.FoundAt,
		s.ExamCenterID, s.TypesBlob, s.IsPublic, s.DayScheduleID,
		s.DrivingSchool, s.ExamType, s.Examinee,
	).Scan(&s.ID)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("slot %d: %w", s.ExamID, ErrDuplicate)
	}
	return err
}

// FindByExamID returns nil, nil when the exam id has never been seen.
func (r *SlotRepository) FindByExamID(ctx context.Context, examID int64) (*model.ExamTimeSlot, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE exam_id = $1`, examID)
	s, err := scanSlot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// SetStatus moves a slot to status. Going taken stamps taken_at and, only
// the first time, first_taken_at; going notified stamps found_at.
func (r *SlotRepository) SetStatus(ctx context.Context, examID int64, status model.SlotStatus, at time.Time) error {
	query, err := setStatusQuery(status)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, query, examID, string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func setStatusQuery(status model.SlotStatus) (string, error) {
	switch status {
	case model.SlotTaken:
		return markTakenQuery, nil
	case model.SlotNotified:
		return markNotifiedQuery, nil
	default:
		return "", ErrInvalidStatus
	}
}

// AttachLicenseType adds licenseType to the slot's license membership.
func (r *SlotRepository) AttachLicenseType(ctx context.Context, examID int64, licenseType string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE slots SET types_blob = array_append(types_blob, $2)
		 WHERE exam_id = $1 AND NOT ($2 = ANY(types_blob))`,
		examID, licenseType)
	return err
}

// NotifiedIDs returns the exam ids currently marked notified for a scope.
func (r *SlotRepository) NotifiedIDs(ctx context.Context, examCenterID int, licenseType string) (map[int64]struct{}, error) {
	rows, err := r.pool.Query(ctx, notifiedIDsQuery,
		string(model.SlotNotified), examCenterID, licenseType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// List returns the most recently created slots.
func (r *SlotRepository) List(ctx context.Context, limit int) ([]model.ExamTimeSlot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+slotColumns+` FROM slots ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []model.ExamTimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, *s)
	}
	return slots, rows.Err()
}

func scanSlot(row pgx.Row) (*model.ExamTimeSlot, error) {
	var s model.ExamTimeSlot
	var status string
	err := row.Scan(
		&s.ID, &s.ExamID, &s.StartTime, &s.EndTime, &status, &s.FirstFoundAt,
		&s.FirstTakenAt, &s.FoundAt, &s.TakenAt, &s.ExamCenterID, &s.TypesBlob,
		&s.IsPublic, &s.DayScheduleID, &s.DrivingSchool, &s.ExamType, &s.Examinee,
	)
	if err != nil {
		return nil, err
	}
	s.Status = model.SlotStatus(status)
	return &s, nil
}
