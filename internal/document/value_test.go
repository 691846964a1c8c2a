package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeepsNumberLiterals(t *testing.T) {
	v, err := Parse([]byte(`{"big":12345678901234567890,"f":1.50}`))
	require.NoError(t, err)
	big, _ := v.Field("big")
	assert.Equal(t, json.Number("12345678901234567890"), big.NumberValue())
	assert.Equal(t, `{"big":12345678901234567890,"f":1.50}`, mustJSON(t, v))
}

func TestParseEmptyIsNull(t *testing.T) {
	v, err := Parse(nil)
	require.NoError(t, err)
	assert.True(t, v.IsNull())

	v, err = Parse([]byte("null"))
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte(`{"a":`))
	require.Error(t, err)
}

func TestZeroValueIsNull(t *testing.T) {
	var v Value
	assert.Equal(t, KindNull, v.Kind())
	assert.Equal(t, "null", mustJSON(t, v))
}

func TestObjectKeysEncodeSorted(t *testing.T) {
	v := Object(map[string]Value{"b": Int(2), "a": Int(1), "c": Array(Bool(true), Null())})
	assert.Equal(t, `{"a":1,"b":2,"c":[true,null]}`, mustJSON(t, v))
	assert.Equal(t, []string{"a", "b", "c"}, v.Keys())
}

func TestStructFieldNullDecodes(t *testing.T) {
	var body struct {
		Data Value `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"data":null}`), &body))
	assert.True(t, body.Data.IsNull())

	require.NoError(t, json.Unmarshal([]byte(`{"data":{"k":"v"}}`), &body))
	assert.True(t, body.Data.IsObject())
}

func TestFromAnyAndBack(t *testing.T) {
	in := map[string]any{
		"name":  "Sarah",
		"count": 3,
		"ratio": 0.5,
		"flags": []any{true, nil},
	}
	v, err := FromAny(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Sarah","count":3,"ratio":0.5,"flags":[true,null]}`, mustJSON(t, v))

	out, ok := v.ToAny().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Sarah", out["name"])
	assert.Equal(t, json.Number("3"), out["count"])
}

func TestFromAnyRejectsUnknownTypes(t *testing.T) {
	_, err := FromAny(struct{}{})
	require.Error(t, err)
}

func TestEqualComparesNumbersByValue(t *testing.T) {
	assert.True(t, Equal(MustParse(`1.0`), MustParse(`1`)))
	assert.False(t, Equal(MustParse(`{"a":1}`), MustParse(`{"a":2}`)))
	assert.False(t, Equal(MustParse(`[1]`), MustParse(`[1,2]`)))
	assert.False(t, Equal(Null(), String("")))
}
