// file: factory.go
package metricsource

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// NewReader opens a read-only metric source for the configured database type.
func NewReader(cfg ConnectionConfig) (Reader, error) {
	if strings.TrimSpace(cfg.Type) == "" {
		return nil, errors.New("connection type is required")
	}
	switch strings.ToLower(cfg.Type) {
	case "mysql":
		return newMySQLReader(cfg)
	case "postgres", "postgresql":
		return newPostgresReader(cfg)
	case "mssql", "sqlserver":
		return newMSSQLReader(cfg)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

func openDatabase(driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	return db, nil
}
