package store

import (
	"fmt"
	"strings"
)

// Money columns are BIGINT rupiah. Back-references between payments,
// settlements and ledger entries carry no foreign keys so that both sides can
// be inserted in one transaction with pre-generated IDs.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS branches (
		id VARCHAR(36) PRIMARY KEY,
		code VARCHAR(20) NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id VARCHAR(36) PRIMARY KEY,
		branch_id VARCHAR(36) NOT NULL REFERENCES branches(id),
		nik VARCHAR(32) NOT NULL,
		name TEXT NOT NULL,
		address TEXT NOT NULL,
		phone VARCHAR(32) NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id VARCHAR(36) PRIMARY KEY,
		branch_id VARCHAR(36) NOT NULL REFERENCES branches(id),
		customer_id VARCHAR(36) NOT NULL REFERENCES customers(id),
		created_by VARCHAR(36) NOT NULL,
		principal BIGINT NOT NULL,
		admin_fee BIGINT NOT NULL DEFAULT 0,
		start_date {{ts}} NOT NULL,
		due_date {{ts}} NOT NULL,
		status VARCHAR(16) NOT NULL,
		paid_off_at {{ts}},
		final_days_used INTEGER,
		final_rate INTEGER,
		final_interest BIGINT,
		final_total_due BIGINT,
		contract_finalized_at {{ts}},
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_branch_status ON loans(branch_id, status)`,
	`CREATE TABLE IF NOT EXISTS collateral_items (
		id VARCHAR(36) PRIMARY KEY,
		branch_id VARCHAR(36) NOT NULL REFERENCES branches(id),
		loan_id VARCHAR(36) REFERENCES loans(id),
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		estimated_value BIGINT NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_collateral_loan ON collateral_items(loan_id)`,
	`CREATE TABLE IF NOT EXISTS sequences (
		scope VARCHAR(100) PRIMARY KEY,
		value BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id VARCHAR(36) PRIMARY KEY,
		loan_id VARCHAR(36) NOT NULL REFERENCES loans(id),
		branch_id VARCHAR(36) NOT NULL,
		amount BIGINT NOT NULL,
		paid_at {{ts}} NOT NULL,
		interest_portion BIGINT NOT NULL,
		principal_portion BIGINT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		recorded_by VARCHAR(36) NOT NULL,
		ledger_entry_id VARCHAR(36),
		days_used INTEGER NOT NULL,
		rate INTEGER NOT NULL,
		interest_amount BIGINT NOT NULL,
		total_due BIGINT NOT NULL,
		reversed_at {{ts}},
		reversed_by VARCHAR(36),
		reversal_reason TEXT NOT NULL DEFAULT '',
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_loan ON payments(loan_id)`,
	`CREATE TABLE IF NOT EXISTS cash_ledger_entries (
		id VARCHAR(36) PRIMARY KEY,
		branch_id VARCHAR(36) NOT NULL,
		loan_id VARCHAR(36),
		direction VARCHAR(3) NOT NULL,
		source VARCHAR(16) NOT NULL,
		amount BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		tx_date {{ts}} NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		payment_id VARCHAR(36),
		settlement_id VARCHAR(36),
		auction_id VARCHAR(36),
		reversal_of VARCHAR(36),
		reversed_by VARCHAR(36),
		created_by VARCHAR(36) NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_branch_date ON cash_ledger_entries(branch_id, tx_date)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_loan ON cash_ledger_entries(loan_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_ledger_reversal_of ON cash_ledger_entries(reversal_of)`,
	`CREATE TABLE IF NOT EXISTS loan_decisions (
		id VARCHAR(36) PRIMARY KEY,
		loan_id VARCHAR(36) NOT NULL REFERENCES loans(id),
		decision VARCHAR(16) NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		decided_by VARCHAR(36) NOT NULL,
		created_at {{ts}} NOT NULL,
		seq INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_loan ON loan_decisions(loan_id, seq)`,
	`CREATE TABLE IF NOT EXISTS auction_listings (
		id VARCHAR(36) PRIMARY KEY,
		loan_id VARCHAR(36) NOT NULL UNIQUE REFERENCES loans(id),
		branch_id VARCHAR(36) NOT NULL,
		status VARCHAR(16) NOT NULL,
		due_date {{ts}} NOT NULL,
		days_used INTEGER NOT NULL,
		interest_amount BIGINT NOT NULL,
		total_due BIGINT NOT NULL,
		remaining BIGINT NOT NULL,
		early_interest_paid BOOLEAN NOT NULL DEFAULT FALSE,
		listed_by VARCHAR(36) NOT NULL,
		listed_at {{ts}} NOT NULL,
		closed_by VARCHAR(36),
		closed_at {{ts}},
		close_note TEXT NOT NULL DEFAULT '',
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS auction_settlements (
		id VARCHAR(36) PRIMARY KEY,
		auction_id VARCHAR(36) NOT NULL REFERENCES auction_listings(id),
		loan_id VARCHAR(36) NOT NULL,
		branch_id VARCHAR(36) NOT NULL,
		gross_amount BIGINT NOT NULL,
		fees BIGINT NOT NULL,
		net_amount BIGINT NOT NULL,
		settled_at {{ts}} NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		ledger_entry_id VARCHAR(36),
		settled_by VARCHAR(36) NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_settlements_auction ON auction_settlements(auction_id)`,
	`CREATE TABLE IF NOT EXISTS loan_contracts (
		id VARCHAR(36) PRIMARY KEY,
		loan_id VARCHAR(36) NOT NULL REFERENCES loans(id),
		branch_id VARCHAR(36) NOT NULL,
		code VARCHAR(64) NOT NULL UNIQUE,
		status VARCHAR(8) NOT NULL,
		template_version VARCHAR(16) NOT NULL,
		snapshot TEXT NOT NULL,
		snapshot_hash VARCHAR(64) NOT NULL,
		finalized_by VARCHAR(36) NOT NULL,
		finalized_at {{ts}} NOT NULL,
		voided_by VARCHAR(36),
		voided_at {{ts}},
		void_reason TEXT NOT NULL DEFAULT '',
		created_at {{ts}} NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_contracts_one_final ON loan_contracts(loan_id) WHERE status = 'FINAL'`,
}

// initSchema creates the tables if they don't already exist.
func (s *SQLStore) initSchema() error {
	for _, stmt := range schemaStatements {
		stmt = strings.ReplaceAll(stmt, "{{ts}}", s.d.timestamp)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
