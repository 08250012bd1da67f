// file: mssql_reader.go
package metricsource

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
)

type MSSQLReader struct {
	baseReader
}

func newMSSQLReader(cfg ConnectionConfig) (*MSSQLReader, error) {
	if cfg.Port == 0 {
		cfg.Port = 1433
	}
	q, err := buildMSSQLQueries(cfg.Tables)
	if err != nil {
		return nil, fmt.Errorf("invalid mssql tables: %w", err)
	}
	user := url.QueryEscape(cfg.User)
	pass := url.QueryEscape(cfg.Password)
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	encrypt := "true"
	if sslMode == "disable" {
		encrypt = "disable"
	}
	dsn := fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s", user, pass, cfg.Host, cfg.Port, cfg.Database, encrypt)
	db, err := openDatabase("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mssql connection: %w", err)
	}
	return &MSSQLReader{baseReader{cfg: cfg, db: db, queries: q, windowArgs: mssqlWindowArgs}}, nil
}

func (r *MSSQLReader) TestConnection(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mssql: %w", err)
	}
	return nil
}

func buildMSSQLQueries(tables Tables) (queries, error) {
	tables = normalizeTables(tables)
	entities, err := quoteMSSQLTable(tables.Entities)
	if err != nil {
		return queries{}, err
	}
	competitors, err := quoteMSSQLTable(tables.Competitors)
	if err != nil {
		return queries{}, err
	}
	points, err := quoteMSSQLTable(tables.Points)
	if err != nil {
		return queries{}, err
	}
	return queries{
		entities: fmt.Sprintf("SELECT id, tenant_id, name, kind FROM %s WHERE tenant_id = @p1 ORDER BY id", entities),
		competitors: fmt.Sprintf("SELECT e.id, e.tenant_id, e.name, e.kind FROM %s c JOIN %s e ON e.id = c.competitor_id "+
			"WHERE c.tenant_id = @p1 AND c.entity_id = @p2 ORDER BY e.id", competitors, entities),
		window: fmt.Sprintf("SELECT TOP (@p1) ts, value, attributes FROM %s "+
			"WHERE tenant_id = @p2 AND entity_id = @p3 AND metric = @p4 ORDER BY ts DESC", points),
	}, nil
}

// TOP binds first on SQL Server.
func mssqlWindowArgs(tenantID, entityID, metric string, limit int) []any {
	return []any{limit, tenantID, entityID, metric}
}

func parseMSSQLTable(table string) (string, string, error) {
	_, parts, err := quoteQualified(table, 2, func(s string) string { return "[" + s + "]" })
	if err != nil {
		return "", "", fmt.Errorf("invalid mssql table: %w", err)
	}
	if len(parts) == 1 {
		return "dbo", parts[0], nil
	}
	return parts[0], parts[1], nil
}

// quoteMSSQLTable always qualifies the table, defaulting to the dbo schema.
func quoteMSSQLTable(table string) (string, error) {
	schema, name, err := parseMSSQLTable(table)
	if err != nil {
		return "", err
	}
	return "[" + schema + "].[" + name + "]", nil
}
