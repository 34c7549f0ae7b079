package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDatabase creates a PostgreSQL testcontainer and applies the
// schema migration.
func setupTestDatabase(t *testing.T) (*Postgres, func()) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("cartops_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	if err := runMigrations(connStr); err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	st, err := NewPostgres(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create store: %v", err)
	}

	cleanup := func() {
		st.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return st, cleanup
}

func runMigrations(connStr string) error {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	paths, err := filepath.Glob(filepath.Join("..", "..", "migrations", "*.up.sql"))
	if err != nil {
		return fmt.Errorf("failed to list migration files: %w", err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		migrationSQL, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read migration file: %w", err)
		}
		if _, err := db.Exec(string(migrationSQL)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", path, err)
		}
	}

	return nil
}

func TestInsertIdempotencyKey(t *testing.T) {
	st, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, st.InsertIdempotencyKey(ctx, "square", "evt-1"))

	// Second insert of the same key loses the race.
	err := st.InsertIdempotencyKey(ctx, "square", "evt-1")
	assert.ErrorIs(t, err, ErrDuplicateKey)

	// Same id under a different source is a different key.
	require.NoError(t, st.InsertIdempotencyKey(ctx, "agent", "evt-1"))
}

func TestDeleteIdempotencyKey(t *testing.T) {
	st, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()

	require.NoError(t, st.InsertIdempotencyKey(ctx, "square", "evt-1"))
	require.NoError(t, st.DeleteIdempotencyKey(ctx, "square", "evt-1"))

	// A retried delivery after a failed dispatch wins the insert again.
	require.NoError(t, st.InsertIdempotencyKey(ctx, "square", "evt-1"))

	// Deleting a missing key is a no-op.
	require.NoError(t, st.DeleteIdempotencyKey(ctx, "square", "evt-never"))
}

func TestInsertShiftCheck(t *testing.T) {
	st, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	check := &ShiftCheck{
		ID:          "55555555-5555-5555-5555-555555555555",
		CartID:      "cart-3",
		EmployeeID:  "emp-7",
		CompletedAt: time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, st.InsertShiftCheck(ctx, check))

	var cartID string
	err := st.pool.QueryRow(ctx, `SELECT cart_id FROM shift_checks WHERE id = $1`, check.ID).Scan(&cartID)
	require.NoError(t, err)
	assert.Equal(t, "cart-3", cartID)
}

func TestUpsertTransaction(t *testing.T) {
	st, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	txn := &Transaction{
		ID:          "11111111-1111-1111-1111-111111111111",
		ExternalID:  "pay-1",
		AmountCents: 3200,
		Currency:    "USD",
		OccurredAt:  time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, st.UpsertTransaction(ctx, txn))

	got, err := st.GetTransactionByExternalID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3200), got.AmountCents)

	// payment.updated replays upsert in place.
	txn.ID = "22222222-2222-2222-2222-222222222222"
	txn.AmountCents = 3700
	require.NoError(t, st.UpsertTransaction(ctx, txn))

	got, err = st.GetTransactionByExternalID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3700), got.AmountCents)
	// Original row id survives the upsert.
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", got.ID)
}

func TestGetTransactionByExternalID_NotFound(t *testing.T) {
	st, cleanup := setupTestDatabase(t)
	defer cleanup()

	_, err := st.GetTransactionByExternalID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertRefund(t *testing.T) {
	st, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	refund := &Refund{
		ID:                "33333333-3333-3333-3333-333333333333",
		ExternalRefundID:  "ref-1",
		ExternalPaymentID: "pay-unknown",
		AmountCents:       500,
		OccurredAt:        time.Now().UTC(),
		Orphaned:          true,
	}

	require.NoError(t, st.InsertRefund(ctx, refund))
	// Replays are absorbed by the conflict clause.
	require.NoError(t, st.InsertRefund(ctx, refund))
}

func TestUpdateMessageStatus(t *testing.T) {
	st, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()

	err := st.UpdateMessageStatus(ctx, "SM-missing", "delivered")
	assert.ErrorIs(t, err, ErrNotFound)

	msg := &InboundMessage{
		ID:         "44444444-4444-4444-4444-444444444444",
		MessageSid: "SM-1",
		From:       "+15551234567",
		To:         "+15557654321",
		Body:       "order tacos",
		Command:    "preorder",
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, st.InsertInboundMessage(ctx, msg))
	require.NoError(t, st.UpdateMessageStatus(ctx, "SM-1", "delivered"))
}

func TestUpdateCartPosition_LastWriteWins(t *testing.T) {
	st, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	newer := &CartPosition{HardwareID: "cart-1", Latitude: 30.27, Longitude: -97.74, RecordedAt: now}
	require.NoError(t, st.UpdateCartPosition(ctx, newer))

	// An older fix arriving late must not clobber the newer one.
	older := &CartPosition{HardwareID: "cart-1", Latitude: 30.00, Longitude: -97.00, RecordedAt: now.Add(-time.Hour)}
	require.NoError(t, st.UpdateCartPosition(ctx, older))

	var lat float64
	err := st.pool.QueryRow(ctx, `SELECT latitude FROM cart_positions WHERE hardware_id = $1`, "cart-1").Scan(&lat)
	require.NoError(t, err)
	assert.Equal(t, 30.27, lat)
}

func TestAgentRegistration(t *testing.T) {
	st, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()

	_, err := st.pool.Exec(ctx,
		`INSERT INTO agents (hardware_id, registration_code_hash) VALUES ($1, $2)`,
		"cart-7", "$2a$10$fakehashfortestingonlyfakehashfortestingonly")
	require.NoError(t, err)

	agent, err := st.GetAgentByHardwareID(ctx, "cart-7")
	require.NoError(t, err)
	assert.Nil(t, agent.RegisteredAt)

	require.NoError(t, st.MarkAgentRegistered(ctx, "cart-7"))

	agent, err = st.GetAgentByHardwareID(ctx, "cart-7")
	require.NoError(t, err)
	assert.NotNil(t, agent.RegisteredAt)

	_, err = st.GetAgentByHardwareID(ctx, "cart-unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}
