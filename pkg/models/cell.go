package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// DateLayout is the wire format for date-typed cell values.
const DateLayout = "2006-01-02"

// CellValue is a tagged union over the five cell value types. Exactly one
// slot is meaningful, selected by Type, which always matches the owning
// column's declared data type. The zero slots carry no information.
type CellValue struct {
	Type    DataType  `json:"type"`
	Text    string    `json:"-"`
	Integer int64     `json:"-"`
	Float   float64   `json:"-"`
	Boolean bool      `json:"-"`
	Date    time.Time `json:"-"`
}

// TextValue builds a text-typed value.
func TextValue(s string) CellValue { return CellValue{Type: TypeText, Text: s} }

// IntegerValue builds an integer-typed value.
func IntegerValue(n int64) CellValue { return CellValue{Type: TypeInteger, Integer: n} }

// FloatValue builds a float-typed value.
func FloatValue(f float64) CellValue { return CellValue{Type: TypeFloat, Float: f} }

// BooleanValue builds a boolean-typed value.
func BooleanValue(b bool) CellValue { return CellValue{Type: TypeBoolean, Boolean: b} }

// DateValue builds a date-typed value, truncated to the day.
func DateValue(t time.Time) CellValue {
	return CellValue{Type: TypeDate, Date: t.UTC().Truncate(24 * time.Hour)}
}

// DefaultValue returns the declared default for a data type:
// "", 0, 0.0, false, or the current date.
func DefaultValue(dt DataType, now time.Time) CellValue {
	switch dt {
	case TypeInteger:
		return IntegerValue(0)
	case TypeFloat:
		return FloatValue(0)
	case TypeBoolean:
		return BooleanValue(false)
	case TypeDate:
		return DateValue(now)
	default:
		return TextValue("")
	}
}

// Raw returns the populated slot as an interface value, dispatching on the
// tag. Dates come back as a DateLayout string.
func (v CellValue) Raw() interface{} {
	switch v.Type {
	case TypeInteger:
		return v.Integer
	case TypeFloat:
		return v.Float
	case TypeBoolean:
		return v.Boolean
	case TypeDate:
		return v.Date.Format(DateLayout)
	default:
		return v.Text
	}
}

// String formats the value for export and logs.
func (v CellValue) String() string {
	switch v.Type {
	case TypeInteger:
		return fmt.Sprintf("%d", v.Integer)
	case TypeFloat:
		return fmt.Sprintf("%g", v.Float)
	case TypeBoolean:
		return fmt.Sprintf("%t", v.Boolean)
	case TypeDate:
		return v.Date.Format(DateLayout)
	default:
		return v.Text
	}
}

// MarshalJSON encodes the value as {"type":..., "value":...}.
func (v CellValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  DataType    `json:"type"`
		Value interface{} `json:"value"`
	}{Type: v.Type, Value: v.Raw()})
}

// UnmarshalJSON decodes {"type":..., "value":...}, validating the value
// against the declared type.
func (v *CellValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type  DataType        `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseValue(raw.Type, raw.Value)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseValue converts a raw JSON value into a CellValue of the given type.
// A null value yields the type default. Type mismatches are rejected here so
// that cell-write operations only ever see values matching the column type.
func ParseValue(dt DataType, raw json.RawMessage) (CellValue, error) {
	if !dt.Valid() {
		return CellValue{}, fmt.Errorf("unknown data type %q", dt)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return DefaultValue(dt, time.Now()), nil
	}

	switch dt {
	case TypeInteger:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return CellValue{}, fmt.Errorf("integer column: %w", err)
		}
		if f != math.Trunc(f) {
			return CellValue{}, fmt.Errorf("integer column: %v has a fractional part", f)
		}
		return IntegerValue(int64(f)), nil
	case TypeFloat:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return CellValue{}, fmt.Errorf("float column: %w", err)
		}
		return FloatValue(f), nil
	case TypeBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return CellValue{}, fmt.Errorf("boolean column: %w", err)
		}
		return BooleanValue(b), nil
	case TypeDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return CellValue{}, fmt.Errorf("date column: %w", err)
		}
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return CellValue{}, fmt.Errorf("date column: %w", err)
		}
		return DateValue(t), nil
	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return CellValue{}, fmt.Errorf("text column: %w", err)
		}
		return TextValue(s), nil
	}
}

// Cell stores one typed value at a (row, column) intersection. The pair is
// unique; the value's tag is determined by the column's data type.
type Cell struct {
	ID       string    `json:"id" db:"id"`
	RowID    string    `json:"row_id" db:"row_id"`
	ColumnID string    `json:"column_id" db:"column_id"`
	Value    CellValue `json:"value"`
}
