// file: mysql_reader.go
package metricsource

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

type MySQLReader struct {
	baseReader
}

func newMySQLReader(cfg ConnectionConfig) (*MySQLReader, error) {
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	q, err := buildMySQLQueries(cfg.Tables)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql tables: %w", err)
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	if sslMode == "disable" {
		dsn += "&tls=false"
	} else if sslMode != "" {
		dsn += "&tls=true"
	}
	db, err := openDatabase("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	return &MySQLReader{baseReader{cfg: cfg, db: db, queries: q, windowArgs: positionalWindowArgs}}, nil
}

func (r *MySQLReader) TestConnection(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	return nil
}

func buildMySQLQueries(tables Tables) (queries, error) {
	t, err := quotedTables(tables, 2, func(s string) string { return "`" + s + "`" })
	if err != nil {
		return queries{}, err
	}
	return queries{
		entities: fmt.Sprintf("SELECT id, tenant_id, name, kind FROM %s WHERE tenant_id = ? ORDER BY id", t.Entities),
		competitors: fmt.Sprintf("SELECT e.id, e.tenant_id, e.name, e.kind FROM %s c JOIN %s e ON e.id = c.competitor_id "+
			"WHERE c.tenant_id = ? AND c.entity_id = ? ORDER BY e.id", t.Competitors, t.Entities),
		window: fmt.Sprintf("SELECT ts, value, attributes FROM %s "+
			"WHERE tenant_id = ? AND entity_id = ? AND metric = ? ORDER BY ts DESC LIMIT ?", t.Points),
	}, nil
}
