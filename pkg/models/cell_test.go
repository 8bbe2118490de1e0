package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValueAcceptsMatchingTypes(t *testing.T) {
	v, err := ParseValue(TypeText, json.RawMessage(`"hello"`))
	require.NoError(t, err)
	assert.Equal(t, "hello", v.Text)

	v, err = ParseValue(TypeInteger, json.RawMessage(`42`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Integer)

	v, err = ParseValue(TypeFloat, json.RawMessage(`3.5`))
	require.NoError(t, err)
	assert.Equal(t, 3.5, v.Float)

	v, err = ParseValue(TypeBoolean, json.RawMessage(`true`))
	require.NoError(t, err)
	assert.True(t, v.Boolean)

	v, err = ParseValue(TypeDate, json.RawMessage(`"2024-03-01"`))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", v.Date.Format(DateLayout))
}

func TestParseValueRejectsMismatches(t *testing.T) {
	_, err := ParseValue(TypeInteger, json.RawMessage(`"12"`))
	assert.Error(t, err, "string into integer column")

	_, err = ParseValue(TypeInteger, json.RawMessage(`1.5`))
	assert.Error(t, err, "fractional number into integer column")

	_, err = ParseValue(TypeBoolean, json.RawMessage(`1`))
	assert.Error(t, err, "number into boolean column")

	_, err = ParseValue(TypeDate, json.RawMessage(`"03/01/2024"`))
	assert.Error(t, err, "wrong date layout")

	_, err = ParseValue(DataType("decimal"), json.RawMessage(`1`))
	assert.Error(t, err, "unknown data type")
}

func TestParseValueNullYieldsDefault(t *testing.T) {
	v, err := ParseValue(TypeInteger, json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.Integer)

	v, err = ParseValue(TypeText, nil)
	require.NoError(t, err)
	assert.Equal(t, "", v.Text)

	v, err = ParseValue(TypeDate, json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Equal(t, time.Now().UTC().Format(DateLayout), v.Date.Format(DateLayout))
}

func TestDefaultValuePerType(t *testing.T) {
	now := time.Date(2024, 6, 15, 13, 30, 0, 0, time.UTC)

	assert.Equal(t, "", DefaultValue(TypeText, now).Text)
	assert.Equal(t, int64(0), DefaultValue(TypeInteger, now).Integer)
	assert.Equal(t, 0.0, DefaultValue(TypeFloat, now).Float)
	assert.False(t, DefaultValue(TypeBoolean, now).Boolean)
	assert.Equal(t, "2024-06-15", DefaultValue(TypeDate, now).Date.Format(DateLayout))
}

func TestCellValueJSONRoundTrip(t *testing.T) {
	original := DateValue(time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC))

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"date","value":"2024-01-02"}`, string(data))

	var decoded CellValue
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.Type, decoded.Type)
	assert.Equal(t, "2024-01-02", decoded.Date.Format(DateLayout))
}

func TestCellValueStringForExport(t *testing.T) {
	assert.Equal(t, "7", IntegerValue(7).String())
	assert.Equal(t, "2.25", FloatValue(2.25).String())
	assert.Equal(t, "false", BooleanValue(false).String())
	assert.Equal(t, "plain", TextValue("plain").String())
}
