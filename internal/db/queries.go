package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/HanTheDev/tenant-edge-gateway/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
    id          BIGSERIAL PRIMARY KEY,
    ts          TIMESTAMPTZ NOT NULL,
    plane       TEXT NOT NULL,
    category    TEXT NOT NULL,
    decision    TEXT NOT NULL,
    tenant_id   TEXT,
    reason      TEXT,
    detail      TEXT,
    request_id  TEXT,
    method      TEXT,
    path        TEXT,
    ip          TEXT
);
CREATE INDEX IF NOT EXISTS audit_events_tenant_ts ON audit_events (tenant_id, ts DESC);
`

func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("db: ensure schema: %w", err)
	}
	return nil
}

// WriteAudit stores one event. Empty strings are stored as NULL.
func (db *DB) WriteAudit(ctx context.Context, e models.AuditEvent) error {
	query := `
        INSERT INTO audit_events (ts, plane, category, decision, tenant_id, reason, detail, request_id, method, path, ip)
        VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''))
    `

	_, err := db.Pool.Exec(ctx, query,
		e.Time,
		e.Plane,
		e.Category,
		e.Decision,
		e.TenantID,
		e.Reason,
		e.Detail,
		e.RequestID,
		e.Method,
		e.Path,
		e.IP,
	)
	return err
}

// RecentAudit returns the newest events for a tenant, newest first. An
// empty tenantID lists events across all tenants.
func (db *DB) RecentAudit(ctx context.Context, tenantID string, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
        SELECT ts, plane, category, decision,
               COALESCE(tenant_id, ''), COALESCE(reason, ''), COALESCE(detail, ''),
               COALESCE(request_id, ''), COALESCE(method, ''), COALESCE(path, ''), COALESCE(ip, '')
        FROM audit_events
        WHERE $1 = '' OR tenant_id = $1
        ORDER BY ts DESC
        LIMIT $2
    `

	rows, err := db.Pool.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AuditEvent, error) {
		var e models.AuditEvent
		err := row.Scan(
			&e.Time,
			&e.Plane,
			&e.Category,
			&e.Decision,
			&e.TenantID,
			&e.Reason,
			&e.Detail,
			&e.RequestID,
			&e.Method,
			&e.Path,
			&e.IP,
		)
		return e, err
	})
}
