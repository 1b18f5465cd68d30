package repository

// Schema definitions for the Heron database.
// Compatible with both SQLite and PostgreSQL.

const schemaOrders = `
CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    customer_state TEXT NOT NULL,
    seller_state TEXT NOT NULL DEFAULT '',
    category_code TEXT NOT NULL DEFAULT '',
    category_label TEXT NOT NULL DEFAULT '',
    revenue REAL NOT NULL DEFAULT 0,
    late INTEGER NOT NULL DEFAULT 0,
    delay_days REAL NOT NULL DEFAULT 0,
    processing_days REAL NOT NULL DEFAULT 0,
    approved_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_customer_state ON orders(customer_state);
CREATE INDEX IF NOT EXISTS idx_orders_category_label ON orders(category_label);
`

// schemaSimulations keeps every simulator run as an audit record.
// Input and estimate are stored as JSON; the indexed columns support listing.
const schemaSimulations = `
CREATE TABLE IF NOT EXISTS simulations (
    id TEXT PRIMARY KEY,
    trace_id TEXT,
    model_name TEXT,
    origin_state TEXT NOT NULL,
    destination_state TEXT NOT NULL,
    route_kind TEXT NOT NULL,
    outcome TEXT NOT NULL,
    final_prediction_days REAL NOT NULL,
    overridden INTEGER NOT NULL DEFAULT 0,
    input TEXT NOT NULL,
    estimate TEXT NOT NULL,
    process_ms INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_simulations_created ON simulations(created_at);
CREATE INDEX IF NOT EXISTS idx_simulations_outcome ON simulations(outcome);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaOrders,
		schemaSimulations,
	}
}
