package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// schemaStatements returns the DDL for all match-engine tables, in creation
// order. Postgres and SQLite differ only in a few column types, handled by
// the placeholder substitution below.
func schemaStatements(driver string) []string {
	// typeTimestamp/typeBlob resolve driver-specific column types.
	typeTimestamp := "TIMESTAMPTZ"
	typeBlob := "BYTEA"
	typeNumeric := "NUMERIC(6,4)"
	if driver == "sqlite" {
		typeTimestamp = "TIMESTAMP"
		typeBlob = "BLOB"
		typeNumeric = "NUMERIC"
	}

	raw := []string{
		`CREATE TABLE IF NOT EXISTS opportunities (
			notice_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			solicitation_number TEXT,
			department TEXT,
			agency TEXT,
			office TEXT,
			posted_date {TS} NOT NULL,
			response_deadline {TS},
			archive_date {TS},
			notice_type TEXT,
			naics_code TEXT,
			set_aside_code TEXT,
			set_aside TEXT,
			place_of_performance TEXT,
			award TEXT,
			primary_contact TEXT,
			secondary_contact TEXT,
			description TEXT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			status TEXT NOT NULL DEFAULT 'active',
			attachments TEXT,
			embedding_metadata TEXT,
			processing_status TEXT NOT NULL DEFAULT 'pending',
			error_message TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			created_at {TS} NOT NULL,
			updated_at {TS} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_agency ON opportunities (agency)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_naics ON opportunities (naics_code)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_archive ON opportunities (archive_date)`,

		`CREATE TABLE IF NOT EXISTS companies (
			company_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			legal_name TEXT NOT NULL,
			primary_contact TEXT,
			website_url TEXT,
			naics_codes TEXT,
			certifications TEXT,
			revenue_range TEXT,
			employee_count TEXT,
			locations TEXT,
			capability_statement TEXT,
			past_performance TEXT,
			documents TEXT,
			embedding_metadata TEXT,
			created_at {TS} NOT NULL,
			updated_at {TS} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_companies_tenant ON companies (tenant_id)`,

		`CREATE TABLE IF NOT EXISTS matches (
			company_id TEXT NOT NULL,
			opportunity_id TEXT NOT NULL,
			total_score {NUM} NOT NULL,
			confidence TEXT NOT NULL,
			component_scores TEXT,
			match_reasons TEXT,
			non_match_reasons TEXT,
			recommendations TEXT,
			action_items TEXT,
			processing_time_ms INTEGER NOT NULL DEFAULT 0,
			created_at {TS} NOT NULL,
			updated_at {TS} NOT NULL,
			PRIMARY KEY (company_id, opportunity_id)
		)`,

		`CREATE TABLE IF NOT EXISTS match_cache (
			cache_key TEXT PRIMARY KEY,
			payload {BLOB} NOT NULL,
			expires_at {TS} NOT NULL,
			created_at {TS} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_match_cache_expiry ON match_cache (expires_at)`,

		`CREATE TABLE IF NOT EXISTS batch_coordination (
			coordination_id TEXT PRIMARY KEY,
			processing_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			total_batches INTEGER NOT NULL DEFAULT 0,
			completed_batches INTEGER NOT NULL DEFAULT 0,
			failed_batches INTEGER NOT NULL DEFAULT 0,
			processing_batches INTEGER NOT NULL DEFAULT 0,
			total_items INTEGER NOT NULL DEFAULT 0,
			total_items_processed INTEGER NOT NULL DEFAULT 0,
			total_errors INTEGER NOT NULL DEFAULT 0,
			progress_percentage REAL NOT NULL DEFAULT 0,
			notified_thresholds TEXT,
			started_at {TS} NOT NULL,
			completed_at {TS},
			updated_at {TS} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_coordination_updated ON batch_coordination (updated_at)`,

		`CREATE TABLE IF NOT EXISTS progress_tracking (
			coordination_id TEXT NOT NULL,
			batch_id TEXT NOT NULL,
			batch_index INTEGER NOT NULL DEFAULT 0,
			items_processed INTEGER NOT NULL DEFAULT 0,
			items_total INTEGER NOT NULL DEFAULT 0,
			errors_count INTEGER NOT NULL DEFAULT 0,
			processing_duration_ms INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			updated_at {TS} NOT NULL,
			expires_at {TS},
			PRIMARY KEY (coordination_id, batch_id)
		)`,

		`CREATE TABLE IF NOT EXISTS weight_configuration (
			config_key TEXT NOT NULL,
			timestamp {TS} NOT NULL,
			weights TEXT NOT NULL,
			confidence_levels TEXT NOT NULL,
			algorithm_params TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			updated_by TEXT,
			expires_at {TS},
			PRIMARY KEY (config_key, timestamp)
		)`,

		`CREATE TABLE IF NOT EXISTS vector_index (
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			content_type TEXT NOT NULL,
			embedding_uri TEXT NOT NULL,
			tenant_id TEXT,
			naics_code TEXT,
			agency TEXT,
			state TEXT,
			posted_date {TS},
			archive_date {TS},
			updated_at {TS} NOT NULL,
			PRIMARY KEY (entity_type, entity_id, content_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vector_index_naics ON vector_index (naics_code)`,

		`CREATE TABLE IF NOT EXISTS audit_log (
			tenant_id TEXT NOT NULL,
			timestamp {TS} NOT NULL,
			actor TEXT,
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT,
			details TEXT,
			expires_at {TS} NOT NULL,
			PRIMARY KEY (tenant_id, timestamp)
		)`,
	}

	statements := make([]string, 0, len(raw))
	replacer := strings.NewReplacer("{TS}", typeTimestamp, "{BLOB}", typeBlob, "{NUM}", typeNumeric)
	for _, stmt := range raw {
		statements = append(statements, replacer.Replace(stmt))
	}
	return statements
}

// EnsureSchema creates all tables and indexes if they do not exist.
// Statements are idempotent so startup can run this unconditionally.
func EnsureSchema(ctx context.Context, db *sql.DB, driver string) error {
	if driver != "sqlite" && driver != "postgres" {
		return fmt.Errorf("unsupported database driver: %s", driver)
	}

	for _, stmt := range schemaStatements(driver) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
