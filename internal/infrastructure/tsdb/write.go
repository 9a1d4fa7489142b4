package tsdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/instrumentkit/instrument-core/internal/unit"
)

// WritePropertyValue writes one property measurement to InfluxDB.
//
// This is the primary method for recording instrument telemetry. The
// write is non-blocking; data is batched and sent asynchronously.
// Values that carry no numeric content (strings, registers) are
// silently skipped.
//
// Parameters:
//   - driver: Instrument name (e.g., "psu")
//   - path: Dotted property path (e.g., "out[1].voltage")
//   - op: The operation that produced the value ("get" or "set")
//   - value: The property value as returned by the pipeline
//   - at: The time the value was observed
//
// Example:
//
//	client.WritePropertyValue("psu", "voltage", "set", 12.5, time.Now())
func (c *Client) WritePropertyValue(driver, path, op string, value any, at time.Time) {
	if !c.IsConnected() {
		return
	}

	magnitude, unitName, ok := numericValue(value)
	if !ok {
		return
	}

	tags := map[string]string{
		"driver": driver,
		"path":   path,
		"op":     op,
	}
	if unitName != "" {
		tags["unit"] = unitName
	}

	point := write.NewPoint(
		"property_values",
		tags,
		map[string]interface{}{
			"value": magnitude,
		},
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit WritePropertyValue.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// numericValue extracts a float64 magnitude from a property value.
//
// Quantities contribute their unit as a tag; booleans map to 0 and 1.
// The third return is false for values with no numeric content.
func numericValue(value any) (float64, string, bool) {
	switch v := value.(type) {
	case unit.Quantity:
		return v.Magnitude, v.Unit, true
	case float64:
		return v, "", true
	case float32:
		return float64(v), "", true
	case int:
		return float64(v), "", true
	case int64:
		return float64(v), "", true
	case uint64:
		return float64(v), "", true
	case bool:
		if v {
			return 1, "", true
		}
		return 0, "", true
	default:
		return 0, "", false
	}
}
