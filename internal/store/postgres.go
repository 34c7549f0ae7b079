package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const queryTimeout = 5 * time.Second

// uniqueViolation is the Postgres error code for unique-constraint inserts.
const uniqueViolation = "23505"

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// InsertIdempotencyKey is the pipeline's single atomic check-and-set: the
// primary key on (source, external_id) guarantees exactly one delivery wins
// even when retries race.
func (p *Postgres) InsertIdempotencyKey(ctx context.Context, source, externalID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO idempotency_keys (source, external_id, processed_at)
		VALUES ($1, $2, NOW())
	`

	_, err := p.pool.Exec(ctx, query, source, externalID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert idempotency key: %w", err)
	}

	return nil
}

// DeleteIdempotencyKey removes a key whose dispatch never landed, so the
// provider's retry of the same event is admitted instead of swallowed as a
// duplicate.
func (p *Postgres) DeleteIdempotencyKey(ctx context.Context, source, externalID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `DELETE FROM idempotency_keys WHERE source = $1 AND external_id = $2`

	if _, err := p.pool.Exec(ctx, query, source, externalID); err != nil {
		return fmt.Errorf("failed to delete idempotency key: %w", err)
	}

	return nil
}

func (p *Postgres) UpsertTransaction(ctx context.Context, txn *Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO transactions (id, external_id, amount_cents, currency, occurred_at, location_hint, hardware_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_id) DO UPDATE
		SET amount_cents = EXCLUDED.amount_cents,
		    currency = EXCLUDED.currency,
		    occurred_at = EXCLUDED.occurred_at,
		    location_hint = EXCLUDED.location_hint
	`

	_, err := p.pool.Exec(ctx, query,
		txn.ID, txn.ExternalID, txn.AmountCents, txn.Currency,
		txn.OccurredAt, txn.LocationHint, nullable(txn.HardwareID),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction: %w", err)
	}

	return nil
}

func (p *Postgres) GetTransactionByExternalID(ctx context.Context, externalID string) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT id, external_id, amount_cents, currency, occurred_at, location_hint, hardware_id
		FROM transactions
		WHERE external_id = $1
	`

	var txn Transaction
	var locationHint, hardwareID *string
	err := p.pool.QueryRow(ctx, query, externalID).Scan(
		&txn.ID, &txn.ExternalID, &txn.AmountCents, &txn.Currency,
		&txn.OccurredAt, &locationHint, &hardwareID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	if locationHint != nil {
		txn.LocationHint = *locationHint
	}
	if hardwareID != nil {
		txn.HardwareID = *hardwareID
	}

	return &txn, nil
}

func (p *Postgres) InsertRefund(ctx context.Context, refund *Refund) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO refunds (id, external_refund_id, external_payment_id, amount_cents, occurred_at, orphaned)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_refund_id) DO NOTHING
	`

	_, err := p.pool.Exec(ctx, query,
		refund.ID, refund.ExternalRefundID, refund.ExternalPaymentID,
		refund.AmountCents, refund.OccurredAt, refund.Orphaned,
	)
	if err != nil {
		return fmt.Errorf("failed to insert refund: %w", err)
	}

	return nil
}

func (p *Postgres) UpdateMessageStatus(ctx context.Context, messageSid, status string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `UPDATE messages SET status = $2, status_updated_at = NOW() WHERE message_sid = $1`

	result, err := p.pool.Exec(ctx, query, messageSid, status)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (p *Postgres) InsertInboundMessage(ctx context.Context, msg *InboundMessage) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO messages (id, message_sid, direction, from_number, to_number, body, command, received_at)
		VALUES ($1, $2, 'inbound', $3, $4, $5, $6, $7)
	`

	_, err := p.pool.Exec(ctx, query,
		msg.ID, nullable(msg.MessageSid), msg.From, msg.To, msg.Body, msg.Command, msg.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert inbound message: %w", err)
	}

	return nil
}

func (p *Postgres) MarkUnsubscribed(ctx context.Context, phone string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO subscribers (phone, unsubscribed_at)
		VALUES ($1, NOW())
		ON CONFLICT (phone) DO UPDATE SET unsubscribed_at = NOW()
	`

	_, err := p.pool.Exec(ctx, query, phone)
	if err != nil {
		return fmt.Errorf("failed to mark unsubscribed: %w", err)
	}

	return nil
}

// UpdateCartPosition keeps the newest fix per cart. Agents sync out of
// order after connectivity gaps, so the update only applies when the
// incoming fix is at least as recent as the stored one.
func (p *Postgres) UpdateCartPosition(ctx context.Context, pos *CartPosition) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO cart_positions (hardware_id, latitude, longitude, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (hardware_id) DO UPDATE
		SET latitude = EXCLUDED.latitude,
		    longitude = EXCLUDED.longitude,
		    recorded_at = EXCLUDED.recorded_at
		WHERE cart_positions.recorded_at <= EXCLUDED.recorded_at
	`

	_, err := p.pool.Exec(ctx, query, pos.HardwareID, pos.Latitude, pos.Longitude, pos.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to update cart position: %w", err)
	}

	return nil
}

func (p *Postgres) UpdateCartStatus(ctx context.Context, st *CartStatus) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	statusJSON, err := json.Marshal(st.Status)
	if err != nil {
		return fmt.Errorf("failed to marshal cart status: %w", err)
	}

	query := `
		INSERT INTO cart_status (hardware_id, status, recorded_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (hardware_id) DO UPDATE
		SET status = EXCLUDED.status,
		    recorded_at = EXCLUDED.recorded_at
		WHERE cart_status.recorded_at <= EXCLUDED.recorded_at
	`

	_, err = p.pool.Exec(ctx, query, st.HardwareID, statusJSON, st.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to update cart status: %w", err)
	}

	return nil
}

func (p *Postgres) InsertQualityPhoto(ctx context.Context, photo *QualityPhoto) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO quality_photos (id, hardware_id, external_id, photo_url, taken_at, review_status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
	`

	_, err := p.pool.Exec(ctx, query,
		photo.ID, photo.HardwareID, nullable(photo.ExternalID), photo.PhotoURL, photo.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert quality photo: %w", err)
	}

	return nil
}

func (p *Postgres) InsertShiftCheck(ctx context.Context, check *ShiftCheck) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO shift_checks (id, cart_id, employee_id, completed_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := p.pool.Exec(ctx, query,
		check.ID, check.CartID, nullable(check.EmployeeID), check.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert shift check: %w", err)
	}

	return nil
}

func (p *Postgres) InsertAlert(ctx context.Context, alert *Alert) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var dataJSON []byte
	var err error
	if alert.Data != nil {
		dataJSON, err = json.Marshal(alert.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal alert data: %w", err)
		}
	}

	query := `
		INSERT INTO alerts (id, alert_type, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = p.pool.Exec(ctx, query, alert.ID, alert.AlertType, alert.Message, dataJSON, alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	return nil
}

func (p *Postgres) GetAgentByHardwareID(ctx context.Context, hardwareID string) (*Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT hardware_id, registration_code_hash, registered_at, last_seen_at
		FROM agents
		WHERE hardware_id = $1
	`

	var agent Agent
	err := p.pool.QueryRow(ctx, query, hardwareID).Scan(
		&agent.HardwareID, &agent.RegistrationCodeHash, &agent.RegisteredAt, &agent.LastSeenAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	return &agent, nil
}

func (p *Postgres) MarkAgentRegistered(ctx context.Context, hardwareID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `UPDATE agents SET registered_at = NOW() WHERE hardware_id = $1`

	result, err := p.pool.Exec(ctx, query, hardwareID)
	if err != nil {
		return fmt.Errorf("failed to mark agent registered: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (p *Postgres) TouchAgentLastSeen(ctx context.Context, hardwareID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `UPDATE agents SET last_seen_at = NOW() WHERE hardware_id = $1`

	if _, err := p.pool.Exec(ctx, query, hardwareID); err != nil {
		return fmt.Errorf("failed to touch agent last seen: %w", err)
	}

	return nil
}

// nullable maps empty strings to SQL NULL for optional columns.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
