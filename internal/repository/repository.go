// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/heron/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultListLimit caps ListSimulations when no limit is given.
const DefaultListLimit = 50

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveOrders upserts a batch of orders in one transaction.
func (r *SQLRepository) SaveOrders(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (
			id, status, customer_state, seller_state, category_code, category_label,
			revenue, late, delay_days, processing_days, approved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			customer_state = excluded.customer_state,
			seller_state = excluded.seller_state,
			category_code = excluded.category_code,
			category_label = excluded.category_label,
			revenue = excluded.revenue,
			late = excluded.late,
			delay_days = excluded.delay_days,
			processing_days = excluded.processing_days,
			approved_at = excluded.approved_at
	`

	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return fmt.Errorf("failed to prepare order insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range orders {
		if o == nil || o.ID == "" {
			return fmt.Errorf("%w: order id is required", ErrInvalidInput)
		}

		late := 0
		if o.Late {
			late = 1
		}

		var approvedAt sql.NullTime
		if o.ApprovedAt != nil {
			approvedAt = sql.NullTime{Time: o.ApprovedAt.UTC(), Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			o.ID, o.Status, o.CustomerState, o.SellerState,
			o.CategoryCode, o.CategoryLabel,
			o.Revenue, late, o.DelayDays, o.ProcessingDays, approvedAt,
		); err != nil {
			return fmt.Errorf("failed to save order %s: %w", o.ID, err)
		}
	}

	return tx.Commit()
}

// ListOrders returns the orders matching filter. Empty filter fields match all.
func (r *SQLRepository) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, error) {
	var where []string
	var args []any

	addIn := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		marks := make([]string, len(values))
		for i, v := range values {
			marks[i] = "?"
			args = append(args, v)
		}
		where = append(where, column+" IN ("+strings.Join(marks, ", ")+")")
	}
	addIn("status", filter.Statuses)
	addIn("customer_state", filter.States)
	addIn("category_label", filter.Categories)

	query := `
		SELECT id, status, customer_state, seller_state, category_code, category_label,
			   revenue, late, delay_days, processing_days, approved_at
		FROM orders
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var o domain.Order
		var late int
		var approvedAt sql.NullTime

		if err := rows.Scan(
			&o.ID, &o.Status, &o.CustomerState, &o.SellerState,
			&o.CategoryCode, &o.CategoryLabel,
			&o.Revenue, &late, &o.DelayDays, &o.ProcessingDays, &approvedAt,
		); err != nil {
			return nil, err
		}

		o.Late = late == 1
		if approvedAt.Valid {
			t := approvedAt.Time
			o.ApprovedAt = &t
		}
		orders = append(orders, &o)
	}

	return orders, rows.Err()
}

// CountOrders returns the size of the dataset.
func (r *SQLRepository) CountOrders(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n)
	return n, err
}

// CategoryLabels returns the distinct label -> code pairs of the dataset.
// When a label carries several codes the smallest one wins.
func (r *SQLRepository) CategoryLabels(ctx context.Context) (map[string]string, error) {
	query := `
		SELECT category_label, MIN(category_code)
		FROM orders
		WHERE category_label <> ''
		GROUP BY category_label
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pairs := make(map[string]string)
	for rows.Next() {
		var label, code string
		if err := rows.Scan(&label, &code); err != nil {
			return nil, err
		}
		pairs[label] = code
	}

	return pairs, rows.Err()
}

// SaveSimulation stores a simulation audit record.
func (r *SQLRepository) SaveSimulation(ctx context.Context, sim *domain.Simulation) error {
	if sim == nil || sim.ID == "" {
		return fmt.Errorf("%w: simulation id is required", ErrInvalidInput)
	}

	input, err := json.Marshal(sim.Input)
	if err != nil {
		return fmt.Errorf("failed to encode simulation input: %w", err)
	}
	estimate, err := json.Marshal(sim.Estimate)
	if err != nil {
		return fmt.Errorf("failed to encode estimate: %w", err)
	}

	overridden := 0
	if sim.Estimate.WasOverriddenByRule {
		overridden = 1
	}

	query := `
		INSERT INTO simulations (
			id, trace_id, model_name, origin_state, destination_state, route_kind,
			outcome, final_prediction_days, overridden, input, estimate, process_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		sim.ID, sim.TraceID, sim.ModelName,
		sim.Input.OriginState, sim.Input.DestinationState, string(sim.Estimate.Route.Kind),
		string(sim.Estimate.Outcome), sim.Estimate.FinalPredictionDays, overridden,
		string(input), string(estimate), sim.ProcessMs, sim.CreatedAt.UTC(),
	)
	return err
}

// GetSimulation retrieves a simulation by ID.
func (r *SQLRepository) GetSimulation(ctx context.Context, id string) (*domain.Simulation, error) {
	query := `
		SELECT id, trace_id, model_name, input, estimate, process_ms, created_at
		FROM simulations
		WHERE id = ?
	`

	sim, err := scanSimulation(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sim, err
}

// ListSimulations returns the most recent simulations first.
func (r *SQLRepository) ListSimulations(ctx context.Context, limit int) ([]*domain.Simulation, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, trace_id, model_name, input, estimate, process_ms, created_at
		FROM simulations
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sims []*domain.Simulation
	for rows.Next() {
		sim, err := scanSimulation(rows)
		if err != nil {
			return nil, err
		}
		sims = append(sims, sim)
	}

	return sims, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSimulation(row rowScanner) (*domain.Simulation, error) {
	var sim domain.Simulation
	var traceID, modelName sql.NullString
	var input, estimate string

	if err := row.Scan(
		&sim.ID, &traceID, &modelName, &input, &estimate, &sim.ProcessMs, &sim.CreatedAt,
	); err != nil {
		return nil, err
	}

	sim.TraceID = traceID.String
	sim.ModelName = modelName.String

	if err := json.Unmarshal([]byte(input), &sim.Input); err != nil {
		return nil, fmt.Errorf("failed to parse simulation input %s: %w", sim.ID, err)
	}
	if err := json.Unmarshal([]byte(estimate), &sim.Estimate); err != nil {
		return nil, fmt.Errorf("failed to parse estimate %s: %w", sim.ID, err)
	}

	return &sim, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
