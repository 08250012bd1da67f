// file: postgres_reader.go
package metricsource

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

type PostgresReader struct {
	baseReader
}

func newPostgresReader(cfg ConnectionConfig) (*PostgresReader, error) {
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	q, err := buildPostgresQueries(cfg.Tables)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres tables: %w", err)
	}
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)
	db, err := openDatabase("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	return &PostgresReader{baseReader{cfg: cfg, db: db, queries: q, windowArgs: positionalWindowArgs}}, nil
}

func (r *PostgresReader) TestConnection(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func buildPostgresQueries(tables Tables) (queries, error) {
	t, err := quotedTables(tables, 2, func(s string) string { return "\"" + s + "\"" })
	if err != nil {
		return queries{}, err
	}
	return queries{
		entities: fmt.Sprintf("SELECT id, tenant_id, name, kind FROM %s WHERE tenant_id = $1 ORDER BY id", t.Entities),
		competitors: fmt.Sprintf("SELECT e.id, e.tenant_id, e.name, e.kind FROM %s c JOIN %s e ON e.id = c.competitor_id "+
			"WHERE c.tenant_id = $1 AND c.entity_id = $2 ORDER BY e.id", t.Competitors, t.Entities),
		window: fmt.Sprintf("SELECT ts, value, attributes::text FROM %s "+
			"WHERE tenant_id = $1 AND entity_id = $2 AND metric = $3 ORDER BY ts DESC LIMIT $4", t.Points),
	}, nil
}

func positionalWindowArgs(tenantID, entityID, metric string, limit int) []any {
	return []any{tenantID, entityID, metric, limit}
}
