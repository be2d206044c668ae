package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/cuioss/nifi-uiharness/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store persists harness runs and page observations to PostgreSQL. It
// satisfies the harness Recorder contract.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// BeginRun registers a harness run so later observations have a parent row.
func (s *Store) BeginRun(ctx context.Context, runID, registryVersion, baseURL string) error {
	sql := `
        INSERT INTO harness_runs (id, registry_version, base_url, started_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO NOTHING;
    `
	if _, err := s.pool.Exec(ctx, sql, runID, registryVersion, baseURL, time.Now()); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", runID, err)
	}
	return nil
}

// EndRun stamps the run finished.
func (s *Store) EndRun(ctx context.Context, runID string) error {
	sql := `UPDATE harness_runs SET finished_at = $2 WHERE id = $1;`
	if _, err := s.pool.Exec(ctx, sql, runID, time.Now()); err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	return nil
}

// RecordObservation persists a single classified page context.
func (s *Store) RecordObservation(ctx context.Context, runID string, pc schemas.PageContext) error {
	indicators, elements, err := marshalSignals(pc)
	if err != nil {
		return err
	}

	sql := `
        INSERT INTO page_observations (id, run_id, url, pathname, title, page_type, authenticated, ready, indicators, elements, observed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
    `
	_, err = s.pool.Exec(ctx, sql,
		uuid.NewString(), runID,
		pc.URL, pc.Pathname, pc.Title,
		string(pc.PageType), pc.Authenticated, pc.Ready,
		indicators, elements,
		pc.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert observation for run %s: %w", runID, err)
	}
	return nil
}

// RecordBatch persists many observations in one transaction via CopyFrom.
func (s *Store) RecordBatch(ctx context.Context, runID string, contexts []schemas.PageContext) error {
	if len(contexts) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && rollbackErr != pgx.ErrTxClosed {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	rows := make([][]interface{}, len(contexts))
	for i, pc := range contexts {
		indicators, elements, err := marshalSignals(pc)
		if err != nil {
			return err
		}
		rows[i] = []interface{}{
			uuid.NewString(), runID,
			pc.URL, pc.Pathname, pc.Title,
			string(pc.PageType), pc.Authenticated, pc.Ready,
			indicators, elements,
			pc.ObservedAt,
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"page_observations"},
		[]string{"id", "run_id", "url", "pathname", "title", "page_type", "authenticated", "ready", "indicators", "elements", "observed_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy observations: %w", err)
	}
	if int(copyCount) != len(contexts) {
		return fmt.Errorf("mismatch in copied observation count: expected %d, got %d", len(contexts), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ObservationsByRun returns every observation of a run in capture order.
func (s *Store) ObservationsByRun(ctx context.Context, runID string) ([]schemas.PageContext, error) {
	query := `
        SELECT url, pathname, title, page_type, authenticated, ready, indicators, elements, observed_at
        FROM page_observations
        WHERE run_id = $1
        ORDER BY observed_at ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var contexts []schemas.PageContext
	for rows.Next() {
		var pc schemas.PageContext
		var pageType string
		var indicators, elements []byte

		err := rows.Scan(
			&pc.URL, &pc.Pathname, &pc.Title,
			&pageType, &pc.Authenticated, &pc.Ready,
			&indicators, &elements,
			&pc.ObservedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan observation row: %w", err)
		}

		pc.PageType = schemas.PageType(pageType)
		if err := json.Unmarshal(indicators, &pc.Indicators); err != nil {
			return nil, fmt.Errorf("failed to decode indicators: %w", err)
		}
		if err := json.Unmarshal(elements, &pc.Elements); err != nil {
			return nil, fmt.Errorf("failed to decode elements: %w", err)
		}
		contexts = append(contexts, pc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return contexts, nil
}

// marshalSignals encodes the jsonb columns. Nil slices and maps become
// empty JSON containers so the columns never hold SQL nulls.
func marshalSignals(pc schemas.PageContext) (indicators, elements []byte, err error) {
	ind := pc.Indicators
	if ind == nil {
		ind = []string{}
	}
	indicators, err = json.Marshal(ind)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode indicators: %w", err)
	}

	el := pc.Elements
	if el == nil {
		el = map[string]bool{}
	}
	elements, err = json.Marshal(el)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode elements: %w", err)
	}
	return indicators, elements, nil
}
