package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/sewaghar/internal/models"
)

// PostgresStore persists requests, declines, and ratings in Postgres. Guarded
// mutations are single UPDATE statements whose WHERE clause carries the
// precondition; RowsAffected tells us whether the transition applied, so two
// racing writers can never both win.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) CreateRequest(ctx context.Context, r *models.ServiceRequest) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO service_requests
			(id, customer_id, provider_id, title, description, category, location,
			 latitude, longitude, wage, contact_number, image_url, status, reviewed,
			 payment_ref, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		r.ID, r.CustomerID, r.ProviderID, r.Title, r.Description, r.Category, r.Location,
		r.Latitude, r.Longitude, r.Wage, r.ContactNumber, r.ImageURL, r.Status, r.Reviewed,
		r.PaymentRef, r.CreatedAt, r.UpdatedAt)
	return err
}

const requestColumns = `id, customer_id, provider_id, title, description, category, location,
	latitude, longitude, wage, contact_number, image_url, status, reviewed, payment_ref,
	created_at, updated_at`

func scanRequest(row interface{ Scan(...any) error }) (*models.ServiceRequest, error) {
	var r models.ServiceRequest
	err := row.Scan(&r.ID, &r.CustomerID, &r.ProviderID, &r.Title, &r.Description,
		&r.Category, &r.Location, &r.Latitude, &r.Longitude, &r.Wage, &r.ContactNumber,
		&r.ImageURL, &r.Status, &r.Reviewed, &r.PaymentRef, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) AcceptRequest(ctx context.Context, id, providerID string, at time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE service_requests SET provider_id = $1, status = 'accepted', updated_at = $2
		WHERE id = $3 AND status = 'pending'`, providerID, at, id)
	return applied(res, err)
}

func (p *PostgresStore) ReleaseRequest(ctx context.Context, id, providerID string, at time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE service_requests SET provider_id = NULL, status = 'pending', updated_at = $1
		WHERE id = $2 AND status = 'accepted' AND provider_id = $3`, at, id, providerID)
	return applied(res, err)
}

func (p *PostgresStore) CompleteRequest(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE service_requests SET status = 'completed', updated_at = $1
		WHERE id = $2 AND status = 'accepted'`, at, id)
	return applied(res, err)
}

func (p *PostgresStore) SetPaymentRef(ctx context.Context, id, ref string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE service_requests SET payment_ref = $1 WHERE id = $2`, ref, id)
	return err
}

func (p *PostgresStore) ListByCustomer(ctx context.Context, customerID string, status models.RequestStatus) ([]models.ServiceRequest, error) {
	return p.list(ctx, `SELECT `+requestColumns+` FROM service_requests
		WHERE customer_id = $1 AND ($2 = '' OR status = $2) ORDER BY created_at DESC`, customerID, string(status))
}

func (p *PostgresStore) ListByProvider(ctx context.Context, providerID string, status models.RequestStatus) ([]models.ServiceRequest, error) {
	return p.list(ctx, `SELECT `+requestColumns+` FROM service_requests
		WHERE provider_id = $1 AND ($2 = '' OR status = $2) ORDER BY created_at DESC`, providerID, string(status))
}

func (p *PostgresStore) ListPending(ctx context.Context) ([]models.ServiceRequest, error) {
	return p.list(ctx, `SELECT `+requestColumns+` FROM service_requests
		WHERE status = 'pending' ORDER BY created_at DESC`)
}

func (p *PostgresStore) list(ctx context.Context, query string, args ...any) ([]models.ServiceRequest, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ServiceRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) MarkNotInterested(ctx context.Context, providerID, requestID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO provider_declines (provider_id, request_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, providerID, requestID)
	return err
}

func (p *PostgresStore) NotInterested(ctx context.Context, providerID string) (map[string]bool, error) {
	return p.idSet(ctx, `SELECT request_id FROM provider_declines WHERE provider_id = $1`, providerID)
}

func (p *PostgresStore) BlockRequest(ctx context.Context, providerID, requestID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO provider_blocks (provider_id, request_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, providerID, requestID)
	return err
}

func (p *PostgresStore) Blocked(ctx context.Context, providerID string) (map[string]bool, error) {
	return p.idSet(ctx, `SELECT request_id FROM provider_blocks WHERE provider_id = $1`, providerID)
}

func (p *PostgresStore) idSet(ctx context.Context, query, providerID string) (map[string]bool, error) {
	rows, err := p.db.QueryContext(ctx, query, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// RecordRating runs the rating insert, the aggregate bump, and the reviewed
// flip in one transaction guarded on the flag still being unset.
func (p *PostgresStore) RecordRating(ctx context.Context, requestID, targetUserID string, r models.Rating) (bool, models.RatingSummary, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, models.RatingSummary{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE service_requests SET reviewed = TRUE
		WHERE id = $1 AND status = 'completed' AND reviewed = FALSE`, requestID)
	ok, err := applied(res, err)
	if err != nil || !ok {
		return false, models.RatingSummary{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ratings (request_id, target_user_id, from_user_id, from_user_type, score, comment, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		r.RequestID, targetUserID, r.FromUserID, r.FromUserType, r.Score, r.Comment, r.CreatedAt)
	if err != nil {
		return false, models.RatingSummary{}, err
	}

	var s models.RatingSummary
	s.UserID = targetUserID
	err = tx.QueryRowContext(ctx, `
		INSERT INTO rating_summaries (user_id, sum, count) VALUES ($1, $2, 1)
		ON CONFLICT (user_id) DO UPDATE
			SET sum = rating_summaries.sum + EXCLUDED.sum,
			    count = rating_summaries.count + 1
		RETURNING sum, count`, targetUserID, r.Score).Scan(&s.Sum, &s.Count)
	if err != nil {
		return false, models.RatingSummary{}, err
	}
	s.Mean = float64(s.Sum) / float64(s.Count)

	if err := tx.Commit(); err != nil {
		return false, models.RatingSummary{}, err
	}
	return true, s, nil
}

func (p *PostgresStore) RatingsFor(ctx context.Context, userID string) ([]models.Rating, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT request_id, from_user_id, from_user_type, score, comment, created_at
		FROM ratings WHERE target_user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Rating
	for rows.Next() {
		var r models.Rating
		if err := rows.Scan(&r.RequestID, &r.FromUserID, &r.FromUserType, &r.Score, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) RatingSummaryFor(ctx context.Context, userID string) (models.RatingSummary, error) {
	s := models.RatingSummary{UserID: userID}
	err := p.db.QueryRowContext(ctx, `SELECT sum, count FROM rating_summaries WHERE user_id = $1`, userID).
		Scan(&s.Sum, &s.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return models.RatingSummary{}, err
	}
	if s.Count > 0 {
		s.Mean = float64(s.Sum) / float64(s.Count)
	}
	return s, nil
}

func applied(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
