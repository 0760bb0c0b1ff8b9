// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package supplier provides the Postgres-backed supplier directory and the
// resolution strategy that maps an email domain (or supplier name) to a
// supplier record. The directory is read-only during pipeline execution;
// writes happen only through the out-of-band bulk loader.
package supplier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apflow/intake/internal/models"
)

// Store provides lookups over supplier records in Postgres, keyed by
// email domain.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a supplier directory store backed by the given Postgres
// pool. It ensures the suppliers table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure supplier schema: %w", err)
	}
	slog.Info("supplier directory store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS suppliers (
			email_domain     TEXT PRIMARY KEY,
			supplier_id      TEXT NOT NULL,
			supplier_name    TEXT NOT NULL DEFAULT '',
			supplier_type    TEXT NOT NULL DEFAULT '',
			default_currency TEXT NOT NULL DEFAULT 'USD',
			ap_routing_code  TEXT NOT NULL,
			created_at       TIMESTAMPTZ DEFAULT NOW(),
			updated_at       TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_suppliers_name ON suppliers(supplier_name);
	`)
	return err
}

// GetByDomain retrieves the supplier record for an email domain.
// Returns (nil, nil) when no record exists.
func (s *Store) GetByDomain(ctx context.Context, emailDomain string) (*models.Supplier, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT email_domain, supplier_id, supplier_name, supplier_type,
		       default_currency, ap_routing_code
		FROM suppliers
		WHERE email_domain = $1
	`, emailDomain)
	return scanSupplier(row)
}

// ScanByName returns suppliers whose name contains the given substring
// (case-insensitive). Results are ordered by email_domain so that identical
// inputs against identical directory state always yield the same first match.
func (s *Store) ScanByName(ctx context.Context, name string) ([]models.Supplier, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT email_domain, supplier_id, supplier_name, supplier_type,
		       default_currency, ap_routing_code
		FROM suppliers
		WHERE supplier_name ILIKE '%' || $1 || '%'
		ORDER BY email_domain
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSuppliers(rows)
}

// Upsert inserts or updates one supplier record keyed on email_domain.
func (s *Store) Upsert(ctx context.Context, sup models.Supplier) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO suppliers
			(email_domain, supplier_id, supplier_name, supplier_type, default_currency, ap_routing_code)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email_domain) DO UPDATE SET
			supplier_id      = EXCLUDED.supplier_id,
			supplier_name    = EXCLUDED.supplier_name,
			supplier_type    = EXCLUDED.supplier_type,
			default_currency = EXCLUDED.default_currency,
			ap_routing_code  = EXCLUDED.ap_routing_code,
			updated_at       = NOW()
	`, sup.EmailDomain, sup.SupplierID, sup.SupplierName, sup.SupplierType, sup.DefaultCurrency, sup.APRoutingCode)
	return err
}

// BulkLoad upserts a batch of supplier records inside one transaction.
// Used by the out-of-band loader, never by the pipeline.
func (s *Store) BulkLoad(ctx context.Context, suppliers []models.Supplier) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin bulk load: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, sup := range suppliers {
		if sup.EmailDomain == "" || sup.SupplierID == "" {
			return fmt.Errorf("supplier record missing email_domain or supplier_id: %+v", sup)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO suppliers
				(email_domain, supplier_id, supplier_name, supplier_type, default_currency, ap_routing_code)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (email_domain) DO UPDATE SET
				supplier_id      = EXCLUDED.supplier_id,
				supplier_name    = EXCLUDED.supplier_name,
				supplier_type    = EXCLUDED.supplier_type,
				default_currency = EXCLUDED.default_currency,
				ap_routing_code  = EXCLUDED.ap_routing_code,
				updated_at       = NOW()
		`, sup.EmailDomain, sup.SupplierID, sup.SupplierName, sup.SupplierType, sup.DefaultCurrency, sup.APRoutingCode); err != nil {
			return fmt.Errorf("upsert supplier %s: %w", sup.EmailDomain, err)
		}
	}

	return tx.Commit(ctx)
}

// Count returns the number of supplier records in the directory.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM suppliers`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// scanSupplier scans a single row into a Supplier.
func scanSupplier(row pgx.Row) (*models.Supplier, error) {
	var sup models.Supplier
	err := row.Scan(
		&sup.EmailDomain, &sup.SupplierID, &sup.SupplierName,
		&sup.SupplierType, &sup.DefaultCurrency, &sup.APRoutingCode,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sup, nil
}

// collectSuppliers scans multiple rows into a slice of Suppliers.
func collectSuppliers(rows pgx.Rows) ([]models.Supplier, error) {
	var suppliers []models.Supplier
	for rows.Next() {
		var sup models.Supplier
		if err := rows.Scan(
			&sup.EmailDomain, &sup.SupplierID, &sup.SupplierName,
			&sup.SupplierType, &sup.DefaultCurrency, &sup.APRoutingCode,
		); err != nil {
			return nil, err
		}
		suppliers = append(suppliers, sup)
	}
	return suppliers, rows.Err()
}
