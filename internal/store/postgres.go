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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/profile-sync-engine/internal/types"
)

// Postgres persists aggregates as one JSONB row per account and appends an
// operation journal. Transient failures are retried with exponential backoff.
type Postgres struct {
	pool       *pgxpool.Pool
	maxRetries int
	retryDelay time.Duration
}

// Option configures the Postgres store.
type Option func(*Postgres)

// WithMaxRetries sets the maximum retry count for transient failures.
func WithMaxRetries(n int) Option {
	return func(p *Postgres) {
		p.maxRetries = n
	}
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Postgres) {
		p.retryDelay = d
	}
}

// NewPostgres constructs a store over the provided pool.
func NewPostgres(pool *pgxpool.Pool, opts ...Option) *Postgres {
	p := &Postgres{
		pool:       pool,
		maxRetries: 3,
		retryDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load implements Store.
func (p *Postgres) Load(ctx context.Context, accountID types.AccountID) (*types.Aggregate, error) {
	ctx, span := storeTracer.Start(ctx, "store.Load", trace.WithAttributes(attribute.String("account", string(accountID))))
	defer span.End()
	start := time.Now()

	var document []byte
	err := p.pool.QueryRow(ctx, `
		SELECT document FROM account_aggregates WHERE account_id = $1
	`, accountID).Scan(&document)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load aggregate %s: %w", accountID, err)
	}

	var agg types.Aggregate
	if err := json.Unmarshal(document, &agg); err != nil {
		return nil, fmt.Errorf("decode aggregate %s: %w", accountID, err)
	}
	loadLatency.WithLabelValues().Observe(time.Since(start).Seconds())
	return &agg, nil
}

// Save implements Store. The whole aggregate is replaced in one UPDATE so the
// profiles touched by an operation are persisted together or not at all.
func (p *Postgres) Save(ctx context.Context, agg *types.Aggregate) error {
	ctx, span := storeTracer.Start(ctx, "store.Save", trace.WithAttributes(attribute.String("account", string(agg.AccountID))))
	defer span.End()
	start := time.Now()

	document, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("encode aggregate %s: %w", agg.AccountID, err)
	}

	err = p.retry(ctx, func(ctx context.Context) error {
		tag, err := p.pool.Exec(ctx, `
			UPDATE account_aggregates
			SET document = $2, updated_at = now()
			WHERE account_id = $1
		`, agg.AccountID, document)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save aggregate %s: %w", agg.AccountID, err)
	}
	saveLatency.WithLabelValues().Observe(time.Since(start).Seconds())
	return nil
}

// Create implements Store.
func (p *Postgres) Create(ctx context.Context, agg *types.Aggregate) error {
	document, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("encode aggregate %s: %w", agg.AccountID, err)
	}

	err = p.retry(ctx, func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx, `
			INSERT INTO account_aggregates (account_id, document, updated_at)
			VALUES ($1, $2, now())
		`, agg.AccountID, document)
		return err
	})
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create aggregate %s: %w", agg.AccountID, err)
	}
	return nil
}

// Delete implements Store. The journal rows cascade with the aggregate.
func (p *Postgres) Delete(ctx context.Context, accountID types.AccountID) error {
	return p.retry(ctx, func(ctx context.Context) error {
		tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `DELETE FROM operation_journal WHERE account_id = $1`, accountID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM account_aggregates WHERE account_id = $1`, accountID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return tx.Commit(ctx)
	})
}

// UpdatedSince implements Store.
func (p *Postgres) UpdatedSince(ctx context.Context, since time.Time) ([]types.AccountID, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT account_id FROM account_aggregates WHERE updated_at > $1
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list updated aggregates: %w", err)
	}
	defer rows.Close()

	var accounts []types.AccountID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		accounts = append(accounts, types.AccountID(id))
	}
	return accounts, rows.Err()
}

// Append implements Journal.
func (p *Postgres) Append(ctx context.Context, entry JournalEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return p.retry(ctx, func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx, `
			INSERT INTO operation_journal (account_id, profile_id, operation, revision, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, entry.AccountID, entry.ProfileID, entry.Operation, entry.Revision, entry.CreatedAt)
		return err
	})
}

func (p *Postgres) retry(ctx context.Context, fn func(context.Context) error) error {
	delay := p.retryDelay
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if err := fn(ctx); err != nil {
			if !isTransient(err) || attempt == p.maxRetries {
				return err
			}
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01": // deadlock_detected
			return true
		}
	}

	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
