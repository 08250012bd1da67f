package evaluator

import (
	"context"
	"time"

	metricsource "hostalerts"
)

var day0 = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

type fakeReader struct {
	entities    map[string][]metricsource.Entity
	competitors map[string][]metricsource.Entity
	// owners maps entity id to the tenant that owns its points.
	owners map[string]string
	// series is keyed by tenant/entity/metric and holds values newest first.
	series map[string][]float64
	// attrs is keyed by entity/metric.
	attrs map[string]map[string]float64
	// missing is keyed like series and holds day offsets with no point.
	missing map[string]map[int]bool
	err     error
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		entities:    map[string][]metricsource.Entity{},
		competitors: map[string][]metricsource.Entity{},
		owners:      map[string]string{},
		series:      map[string][]float64{},
		attrs:       map[string]map[string]float64{},
		missing:     map[string]map[int]bool{},
	}
}

func (f *fakeReader) addEntity(tenantID, id, name string) {
	f.owners[id] = tenantID
	f.entities[tenantID] = append(f.entities[tenantID], metricsource.Entity{ID: id, TenantID: tenantID, Name: name})
}

// addCompetitor tracks id as a competitor of entityID. The competitor's
// points live under owner, not under the tracking tenant.
func (f *fakeReader) addCompetitor(entityID, owner, id, name string) {
	f.owners[id] = owner
	f.competitors[entityID] = append(f.competitors[entityID], metricsource.Entity{ID: id, TenantID: owner, Name: name})
}

func (f *fakeReader) seriesKey(entityID, metric string) string {
	return f.owners[entityID] + "/" + entityID + "/" + metric
}

// setChrono stores a series given oldest first.
func (f *fakeReader) setChrono(entityID, metric string, oldestFirst ...float64) {
	out := make([]float64, len(oldestFirst))
	for i, v := range oldestFirst {
		out[len(oldestFirst)-1-i] = v
	}
	f.series[f.seriesKey(entityID, metric)] = out
}

// setNewest stores a series given newest first.
func (f *fakeReader) setNewest(entityID, metric string, newestFirst ...float64) {
	f.series[f.seriesKey(entityID, metric)] = newestFirst
}

// dropDay removes the point daysAgo days before day0 from a series.
func (f *fakeReader) dropDay(entityID, metric string, daysAgo int) {
	key := f.seriesKey(entityID, metric)
	if f.missing[key] == nil {
		f.missing[key] = map[int]bool{}
	}
	f.missing[key][daysAgo] = true
}

func (f *fakeReader) Entities(ctx context.Context, tenantID string) ([]metricsource.Entity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entities[tenantID], nil
}

func (f *fakeReader) Competitors(ctx context.Context, tenantID, entityID string) ([]metricsource.Entity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.competitors[entityID], nil
}

func (f *fakeReader) FetchWindow(ctx context.Context, tenantID, entityID string, q metricsource.Query) ([]metricsource.Point, error) {
	if f.err != nil {
		return nil, f.err
	}
	key := tenantID + "/" + entityID + "/" + q.Metric
	values := f.series[key]
	if len(values) > q.Days {
		values = values[:q.Days]
	}
	points := make([]metricsource.Point, 0, len(values))
	for i, v := range values {
		if f.missing[key][i] {
			continue
		}
		points = append(points, metricsource.Point{TS: day0.AddDate(0, 0, -i), Value: v})
	}
	if len(points) > 0 {
		points[0].Attributes = f.attrs[entityID+"/"+q.Metric]
	}
	return points, nil
}
