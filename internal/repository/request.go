package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/model"
)

const requestColumns = `id, timestamp, request_type, url, email_used,
	request_body, response_status, response_body`

type RequestRepository struct {
	pool *pgxpool.Pool
}

func NewRequestRepository(pool *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{pool: pool}
}

func (r *RequestRepository) Create(ctx context.Context, req *model.SbatRequest) error {
	var body []byte
	if len(req.RequestBody) > 0 {
		body = req.RequestBody
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO sbat_requests
			(timestamp, request_type, url, email_used, request_body,
			 response_status, response_body)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		req.Timestamp, req.RequestType, req.URL, req.EmailUsed, body,
		req.ResponseStatus, req.ResponseBody,
	).Scan(&req.ID)
}

// LastAuthentication returns the newest successful authentication record,
// or nil, nil if there is none.
func (r *RequestRepository) LastAuthentication(ctx context.Context) (*model.SbatRequest, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM sbat_requests
		 WHERE request_type = $1 AND response_status = 200
		 ORDER BY timestamp DESC LIMIT 1`,
		model.RequestAuthentication)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

func (r *RequestRepository) List(ctx context.Context, limit int) ([]model.SbatRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM sbat_requests ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []model.SbatRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

// DeleteOlderThan prunes audit records before cutoff. The newest successful
// authentication record is kept because it is the token cache.
func (r *RequestRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM sbat_requests
		 WHERE timestamp < $1
		   AND id <> COALESCE((
			SELECT id FROM sbat_requests
			WHERE request_type = $2 AND response_status = 200
			ORDER BY timestamp DESC LIMIT 1
		   ), 0)`,
		cutoff, model.RequestAuthentication)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanRequest(row pgx.Row) (*model.SbatRequest, error) {
	var req model.SbatRequest
	var body []byte
	err := row.Scan(
		&req.ID, &req.Timestamp, &req.RequestType, &req.URL, &req.EmailUsed,
		&body, &req.ResponseStatus, &req.ResponseBody,
	)
	if err != nil {
		return nil, err
	}
	req.RequestBody = body
	return &req, nil
}
