package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// SeriesPoint is one period of a historical series. Numeric periods ("9",
// "10", "2019.5") sort by value; anything else sorts lexically, so "2019-Q3"
// and "2019-07-01" order correctly.
type SeriesPoint struct {
	Period string  `json:"period"`
	Value  float64 `json:"value"`
}

// Observation is what a caller already knows about an indicator: a current
// value, a historical series, or neither.
type Observation struct {
	Value  *float64
	Series []SeriesPoint
}

func (o *Observation) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*o = Observation{}
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		return nil
	case data[0] == '[':
		return o.unmarshalSeries(data)
	case data[0] == '{':
		var obj struct {
			Value  *float64      `json:"value"`
			Series []SeriesPoint `json:"series"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("invalid observation object: %w", err)
		}
		o.Value = obj.Value
		o.Series = obj.Series
		return nil
	default:
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("observation must be a number, a series or null: %w", err)
		}
		o.Value = &v
		return nil
	}
}

func (o *Observation) unmarshalSeries(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid series: %w", err)
	}
	o.Series = make([]SeriesPoint, 0, len(raw))
	for i, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '{' {
			var p SeriesPoint
			if err := json.Unmarshal(item, &p); err != nil {
				return fmt.Errorf("invalid series point %d: %w", i, err)
			}
			o.Series = append(o.Series, p)
			continue
		}
		var v float64
		if err := json.Unmarshal(item, &v); err != nil {
			return fmt.Errorf("invalid series point %d: %w", i, err)
		}
		o.Series = append(o.Series, SeriesPoint{Period: fmt.Sprintf("%06d", i), Value: v})
	}
	return nil
}

func (o Observation) MarshalJSON() ([]byte, error) {
	switch {
	case o.Value != nil && len(o.Series) == 0:
		return json.Marshal(*o.Value)
	case o.Value == nil && len(o.Series) > 0:
		return json.Marshal(o.Series)
	case o.Value == nil:
		return []byte("null"), nil
	}
	return json.Marshal(struct {
		Value  *float64      `json:"value"`
		Series []SeriesPoint `json:"series"`
	}{o.Value, o.Series})
}

// ExistingData maps indicators to what the caller already has.
type ExistingData map[IndicatorKey]Observation

// Normalized returns a copy with every key passed through
// NormalizeIndicatorKey. Two keys that normalize to the same indicator are a
// ValidationError on field.
func (d ExistingData) Normalized(field string) (ExistingData, error) {
	if d == nil {
		return nil, nil
	}
	out := make(ExistingData, len(d))
	for k, v := range d {
		key := NormalizeIndicatorKey(string(k))
		if _, dup := out[key]; dup {
			return nil, NewValidationError(field, fmt.Sprintf("indicator %q is given more than once", key))
		}
		out[key] = v
	}
	return out, nil
}

// Scalar returns the caller-supplied current value, if any.
func (d ExistingData) Scalar(key IndicatorKey) (float64, bool) {
	obs, ok := d[key]
	if !ok || obs.Value == nil {
		return 0, false
	}
	return *obs.Value, true
}

// Series returns the historical series for key ordered by period.
func (d ExistingData) Series(key IndicatorKey) []SeriesPoint {
	obs, ok := d[key]
	if !ok || len(obs.Series) == 0 {
		return nil
	}
	series := make([]SeriesPoint, len(obs.Series))
	copy(series, obs.Series)
	sortByPeriod(series)
	return series
}

func sortByPeriod(series []SeriesPoint) {
	nums := make([]float64, len(series))
	for i, p := range series {
		n, err := strconv.ParseFloat(p.Period, 64)
		if err != nil {
			sort.SliceStable(series, func(i, j int) bool {
				return series[i].Period < series[j].Period
			})
			return
		}
		nums[i] = n
	}
	sort.Stable(byNumericPeriod{series, nums})
}

type byNumericPeriod struct {
	points []SeriesPoint
	nums   []float64
}

func (b byNumericPeriod) Len() int           { return len(b.points) }
func (b byNumericPeriod) Less(i, j int) bool { return b.nums[i] < b.nums[j] }
func (b byNumericPeriod) Swap(i, j int) {
	b.points[i], b.points[j] = b.points[j], b.points[i]
	b.nums[i], b.nums[j] = b.nums[j], b.nums[i]
}

// HasSeries reports whether key carries at least two historical points.
func (d ExistingData) HasSeries(key IndicatorKey) bool {
	obs, ok := d[key]
	return ok && len(obs.Series) >= 2
}
