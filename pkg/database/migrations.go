package database

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql"
)

// CreateSupplementalIndexes creates indexes not expressible through Ent's
// schema index builder.
func CreateSupplementalIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	// Partial index: only connected vehicles are eligible submission targets
	// (checked by the POST /commands handler before InsertCommand), so most lookups
	// filter on this predicate.
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_vehicles_connected
		ON vehicles (vehicle_id) WHERE connection_status = 'connected'`)
	if err != nil {
		return fmt.Errorf("failed to create connected-vehicle index: %w", err)
	}

	// GIN index for free-text search over audit event details, used by
	// operational tooling investigating a specific failure reason.
	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_details_gin
		ON audit_events USING gin(details)`)
	if err != nil {
		return fmt.Errorf("failed to create audit details GIN index: %w", err)
	}

	return nil
}
