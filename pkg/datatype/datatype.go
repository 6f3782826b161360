package datatype

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

// ColumnType identifies the declared type of a result column
type ColumnType string

const (
	Int       ColumnType = "INT"
	Long      ColumnType = "LONG"
	Float     ColumnType = "FLOAT"
	Double    ColumnType = "DOUBLE"
	Boolean   ColumnType = "BOOLEAN"
	Timestamp ColumnType = "TIMESTAMP"
	String    ColumnType = "STRING"
	Bytes     ColumnType = "BYTES"
	JSON      ColumnType = "JSON"
)

// All returns every supported column type
func All() []ColumnType {
	return []ColumnType{Int, Long, Float, Double, Boolean, Timestamp, String, Bytes, JSON}
}

// ToExternal converts an engine-internal value to its public representation.
// Internal numeric values arrive in whatever width the execution engine used;
// the external contract fixes one canonical width per type. Timestamps are
// internal epoch milliseconds, bytes are internal raw slices. Nil propagates.
func (t ColumnType) ToExternal(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case Int:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return int32(n), nil
	case Long:
		return toInt64(v)
	case Float:
		f, err := toFloat64(v)
		if err != nil {
			return nil, err
		}
		return float32(f), nil
	case Double:
		return toFloat64(v)
	case Boolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("cannot read %T as BOOLEAN", v)
		}
		return b, nil
	case Timestamp:
		millis, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(millis).UTC(), nil
	case String, JSON:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("cannot read %T as %s", v, t)
		}
		return s, nil
	case Bytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("cannot read %T as BYTES", v)
		}
		return hex.EncodeToString(b), nil
	default:
		return nil, fmt.Errorf("unsupported column type %q", t)
	}
}

// Format applies final display normalization to an external value.
// Timestamps become their canonical string form, everything else passes
// through unchanged. Nil propagates.
func (t ColumnType) Format(v any) any {
	if v == nil {
		return nil
	}
	switch t {
	case Timestamp:
		if ts, ok := v.(time.Time); ok {
			return ts.Format("2006-01-02 15:04:05.999")
		}
		return v
	default:
		return v
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("cannot read %T as integral value", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch f := v.(type) {
	case float32:
		return float64(f), nil
	case float64:
		return f, nil
	case int:
		return float64(f), nil
	case int32:
		return float64(f), nil
	case int64:
		return float64(f), nil
	case *big.Float:
		out, _ := f.Float64()
		return out, nil
	default:
		return 0, fmt.Errorf("cannot read %T as floating point value", v)
	}
}
