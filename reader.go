// file: reader.go
package metricsource

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEntitiesTable    = "entities"
	defaultCompetitorsTable = "entity_competitors"
	defaultPointsTable      = "metric_points"
	maxWindowPoints         = 366
)

// Reader supplies windowed time-series values for a tenant's entities.
// It never writes to the underlying source.
type Reader interface {
	TestConnection(ctx context.Context) error

	// Entities returns the tenant's own entities ordered by id.
	Entities(ctx context.Context, tenantID string) ([]Entity, error)

	// Competitors returns the named competitors tracked for one entity, ordered
	// by id. Each carries its owning tenant, which windows must be read with.
	Competitors(ctx context.Context, tenantID, entityID string) ([]Entity, error)

	// FetchWindow returns up to q.Days points for one metric, newest first.
	FetchWindow(ctx context.Context, tenantID, entityID string, q Query) ([]Point, error)

	Close() error
}

type ConnectionConfig struct {
	Type     string // mysql | postgres | mssql
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Tables   Tables
}

// Tables names the source tables. Empty fields fall back to the defaults.
type Tables struct {
	Entities    string
	Competitors string
	Points      string
}

type Entity struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

type Query struct {
	Metric string
	Days   int
}

type Point struct {
	TS         time.Time          `json:"ts"`
	Value      float64            `json:"value"`
	Attributes map[string]float64 `json:"attributes,omitempty"`
}

// Values returns the point values in the same order as points.
func Values(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

type queries struct {
	entities    string
	competitors string
	window      string
}

type baseReader struct {
	cfg     ConnectionConfig
	db      *sql.DB
	queries queries
	// windowArgs orders the FetchWindow bind arguments for the dialect.
	windowArgs func(tenantID, entityID, metric string, limit int) []any
}

func (b *baseReader) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *baseReader) Entities(ctx context.Context, tenantID string) ([]Entity, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, errors.New("tenant id is required")
	}
	rows, err := b.db.QueryContext(ctx, b.queries.entities, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query %s entities: %w", b.cfg.Type, err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func (b *baseReader) Competitors(ctx context.Context, tenantID, entityID string) ([]Entity, error) {
	rows, err := b.db.QueryContext(ctx, b.queries.competitors, tenantID, entityID)
	if err != nil {
		return nil, fmt.Errorf("query %s competitors: %w", b.cfg.Type, err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func (b *baseReader) FetchWindow(ctx context.Context, tenantID, entityID string, q Query) ([]Point, error) {
	if strings.TrimSpace(q.Metric) == "" {
		return nil, errors.New("metric is required")
	}
	limit := normalizeWindow(q.Days)
	rows, err := b.db.QueryContext(ctx, b.queries.window, b.windowArgs(tenantID, entityID, q.Metric, limit)...)
	if err != nil {
		return nil, fmt.Errorf("query %s window %s: %w", b.cfg.Type, q.Metric, err)
	}
	defer rows.Close()
	points := make([]Point, 0, limit)
	for rows.Next() {
		var rawTS, rawValue, rawAttrs any
		if err := rows.Scan(&rawTS, &rawValue, &rawAttrs); err != nil {
			return nil, fmt.Errorf("scan %s point: %w", b.cfg.Type, err)
		}
		ts, ok := toTime(normalizeValue(rawTS))
		if !ok {
			continue
		}
		value, ok := toFloat(normalizeValue(rawValue))
		if !ok {
			continue
		}
		attrs, err := parseAttributes(normalizeValue(rawAttrs))
		if err != nil {
			return nil, fmt.Errorf("decode %s point attributes: %w", b.cfg.Type, err)
		}
		points = append(points, Point{TS: ts, Value: value, Attributes: attrs})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s points: %w", b.cfg.Type, err)
	}
	sortNewestFirst(points)
	return points, nil
}

// scanEntities reads (id, tenant_id, name, kind) rows. TenantID is the
// owning tenant, which for competitors differs from the tracking tenant.
func scanEntities(rows *sql.Rows) ([]Entity, error) {
	results := []Entity{}
	for rows.Next() {
		var e Entity
		var kind sql.NullString
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Name, &kind); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.Kind = kind.String
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return results, nil
}

func normalizeTables(t Tables) Tables {
	if t.Entities == "" {
		t.Entities = defaultEntitiesTable
	}
	if t.Competitors == "" {
		t.Competitors = defaultCompetitorsTable
	}
	if t.Points == "" {
		t.Points = defaultPointsTable
	}
	return t
}

func normalizeWindow(days int) int {
	if days <= 0 {
		return 7
	}
	if days > maxWindowPoints {
		return maxWindowPoints
	}
	return days
}

// quotedTables validates and quotes every configured table name.
func quotedTables(t Tables, maxSegments int, quote func(string) string) (Tables, error) {
	t = normalizeTables(t)
	entities, _, err := quoteQualified(t.Entities, maxSegments, quote)
	if err != nil {
		return Tables{}, fmt.Errorf("entities table: %w", err)
	}
	competitors, _, err := quoteQualified(t.Competitors, maxSegments, quote)
	if err != nil {
		return Tables{}, fmt.Errorf("competitors table: %w", err)
	}
	points, _, err := quoteQualified(t.Points, maxSegments, quote)
	if err != nil {
		return Tables{}, fmt.Errorf("points table: %w", err)
	}
	return Tables{Entities: entities, Competitors: competitors, Points: points}, nil
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

func splitIdentifier(ident string) ([]string, error) {
	trimmed := strings.TrimSpace(ident)
	if trimmed == "" {
		return nil, errors.New("identifier is empty")
	}
	parts := strings.Split(trimmed, ".")
	for _, part := range parts {
		if part == "" {
			return nil, errors.New("identifier contains empty segment")
		}
		if !identPattern.MatchString(part) {
			return nil, fmt.Errorf("identifier segment %q is invalid", part)
		}
	}
	return parts, nil
}

func quoteQualified(ident string, maxSegments int, quote func(string) string) (string, []string, error) {
	parts, err := splitIdentifier(ident)
	if err != nil {
		return "", nil, err
	}
	if maxSegments > 0 && len(parts) > maxSegments {
		return "", nil, fmt.Errorf("identifier %q has too many segments", ident)
	}
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = quote(part)
	}
	return strings.Join(quoted, "."), parts, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	default:
		return t
	}
}

func parseAttributes(v any) (map[string]float64, error) {
	var text string
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		text = t
	case map[string]any:
		return coerceAttributes(t), nil
	default:
		return nil, fmt.Errorf("unsupported attributes type %T", v)
	}
	text = strings.TrimSpace(text)
	if text == "" || text == "null" {
		return nil, nil
	}
	raw := map[string]any{}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, err
	}
	return coerceAttributes(raw), nil
}

func coerceAttributes(raw map[string]any) map[string]float64 {
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if f, ok := toFloat(v); ok {
			out[k] = f
		}
	}
	return out
}

func sortNewestFirst(points []Point) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].TS.After(points[j].TS)
	})
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	default:
		return time.Time{}, false
	}
}

func parseTime(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
