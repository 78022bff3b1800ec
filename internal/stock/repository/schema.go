package repository

// Migrations returns the DDL for the stock service, in dependency order.
// Every statement is idempotent so it can run on each start.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS stock_item (
			id UUID PRIMARY KEY,
			reference VARCHAR(100) NOT NULL,
			label VARCHAR(255) NOT NULL,
			quantity NUMERIC NOT NULL DEFAULT 0,
			min_quantity NUMERIC NOT NULL DEFAULT 0,
			unit_price NUMERIC NOT NULL DEFAULT 0,
			unit VARCHAR(32) NOT NULL DEFAULT 'unit',
			value NUMERIC NOT NULL DEFAULT 0,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT stock_item_reference_key UNIQUE (reference),
			CONSTRAINT stock_item_quantity_non_negative CHECK (quantity >= 0),
			CONSTRAINT stock_item_threshold_valid CHECK (min_quantity >= 0),
			CONSTRAINT stock_item_unit_price_valid CHECK (unit_price >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS allocation_record (
			id UUID PRIMARY KEY,
			work_item_type VARCHAR(20) NOT NULL,
			work_item_id VARCHAR(64) NOT NULL,
			project_id VARCHAR(64),
			stock_item_id UUID NOT NULL REFERENCES stock_item(id) ON DELETE RESTRICT,
			estimated_quantity NUMERIC NOT NULL,
			additional_quantity NUMERIC NOT NULL DEFAULT 0,
			actual_quantity_used NUMERIC,
			remaining_quantity NUMERIC,
			return_to_stock BOOLEAN NOT NULL DEFAULT FALSE,
			justification_shortage TEXT,
			unit_type VARCHAR(32) NOT NULL DEFAULT 'unit',
			status VARCHAR(20) NOT NULL DEFAULT 'planned',
			consumption_assumed BOOLEAN NOT NULL DEFAULT FALSE,
			notes TEXT NOT NULL DEFAULT '',
			settled_at TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 1,
			created_by VARCHAR(64) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT allocation_record_work_item_type_valid CHECK (work_item_type IN ('task', 'intervention')),
			CONSTRAINT allocation_record_status_valid CHECK (status IN ('planned', 'in_use', 'shortage_flagged', 'settled')),
			CONSTRAINT allocation_record_allocation_bounds CHECK (
				estimated_quantity >= 0
				AND additional_quantity >= 0
				AND (actual_quantity_used IS NULL OR (actual_quantity_used >= 0 AND actual_quantity_used <= estimated_quantity + additional_quantity))
				AND (remaining_quantity IS NULL OR (remaining_quantity >= 0 AND remaining_quantity <= estimated_quantity + additional_quantity))
			)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS allocation_record_work_item_stock_key
			ON allocation_record (work_item_type, work_item_id, stock_item_id)`,
		`CREATE TABLE IF NOT EXISTS stock_movement (
			id UUID PRIMARY KEY,
			seq BIGSERIAL NOT NULL,
			stock_item_id UUID NOT NULL REFERENCES stock_item(id) ON DELETE RESTRICT,
			kind VARCHAR(20) NOT NULL,
			quantity NUMERIC NOT NULL,
			quantity_delta NUMERIC NOT NULL,
			unit_price NUMERIC NOT NULL,
			total_price NUMERIC NOT NULL,
			reference VARCHAR(100),
			notes TEXT,
			work_item_type VARCHAR(20),
			work_item_id VARCHAR(64),
			project_id VARCHAR(64),
			supplier_id VARCHAR(64),
			allocation_id UUID REFERENCES allocation_record(id) ON DELETE RESTRICT,
			performed_by VARCHAR(64) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT stock_movement_kind_valid CHECK (kind IN ('purchase', 'sale', 'transfer', 'adjustment', 'waste', 'return')),
			CONSTRAINT stock_movement_quantity_positive CHECK (quantity > 0)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stock_movement_item_order
			ON stock_movement (stock_item_id, created_at, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_stock_movement_allocation
			ON stock_movement (allocation_id) WHERE allocation_id IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS notification (
			id UUID PRIMARY KEY,
			recipient_id VARCHAR(64) NOT NULL,
			title VARCHAR(255) NOT NULL,
			message TEXT NOT NULL,
			category VARCHAR(32) NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			stock_item_id UUID REFERENCES stock_item(id) ON DELETE CASCADE,
			work_item_type VARCHAR(20),
			work_item_id VARCHAR(64),
			allocation_id UUID REFERENCES allocation_record(id) ON DELETE SET NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			read_at TIMESTAMPTZ,
			CONSTRAINT notification_category_valid CHECK (category IN ('stock_alert', 'stock_shortage', 'additional_request'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_recipient
			ON notification (recipient_id, is_read, created_at DESC)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_notification_unread_stock_alert
			ON notification (recipient_id, stock_item_id) WHERE category = 'stock_alert' AND NOT is_read`,
		`CREATE TABLE IF NOT EXISTS stock_recipient (
			user_id VARCHAR(64) PRIMARY KEY,
			first_name VARCHAR(100) NOT NULL DEFAULT '',
			last_name VARCHAR(100) NOT NULL DEFAULT '',
			email VARCHAR(255),
			role_name VARCHAR(64),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stock_recipient_role ON stock_recipient (role_name)`,
	}
}
