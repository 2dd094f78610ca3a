package providers

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/goliatone/go-fitsync/core"
)

// MetricSet accumulates canonical metrics. Nil values are skipped so absent
// provider fields never produce rows, and a later value for the same day and
// type replaces an earlier one.
type MetricSet struct {
	metrics map[string]core.Metric
}

func NewMetricSet() *MetricSet {
	return &MetricSet{metrics: map[string]core.Metric{}}
}

func (s *MetricSet) Add(day time.Time, metricType core.MetricType, value float64) {
	if s.metrics == nil {
		s.metrics = map[string]core.Metric{}
	}
	metric := core.NewMetric(day, metricType, value)
	s.metrics[metric.Key()] = metric
}

func (s *MetricSet) AddFloat(day time.Time, metricType core.MetricType, value *float64) {
	if value == nil {
		return
	}
	s.Add(day, metricType, *value)
}

func (s *MetricSet) AddInt(day time.Time, metricType core.MetricType, value *int64) {
	if value == nil {
		return
	}
	s.Add(day, metricType, float64(*value))
}

// AddScaled adds value multiplied by factor, used for unit conversions such
// as meters to kilometers.
func (s *MetricSet) AddScaled(day time.Time, metricType core.MetricType, value *float64, factor float64) {
	if value == nil {
		return
	}
	s.Add(day, metricType, *value*factor)
}

func (s *MetricSet) Len() int {
	return len(s.metrics)
}

// Metrics returns the accumulated rows ordered by date then type.
func (s *MetricSet) Metrics() []core.Metric {
	out := make([]core.Metric, 0, len(s.metrics))
	for _, metric := range s.metrics {
		out = append(out, metric)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// Record encodes payload as a raw record for day.
func Record(source string, day time.Time, payload any) (core.RawRecord, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return core.RawRecord{}, core.WrapError(core.KindFetchFailed, err, "providers: encode raw record")
	}
	return core.RawRecord{Source: source, Date: core.TruncateDay(day), Payload: encoded}, nil
}

// Decode unmarshals a raw record payload.
func Decode[T any](record core.RawRecord) (T, error) {
	var out T
	if err := json.Unmarshal(record.Payload, &out); err != nil {
		return out, core.WrapError(core.KindFetchFailed, err, "providers: decode "+record.Source+" record")
	}
	return out, nil
}

// DayOf parses a provider date or timestamp and returns its UTC calendar day.
// Timestamps carrying an offset are attributed to the local day they describe.
func DayOf(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		y, m, d := ts.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return core.ParseDate(value)
}
