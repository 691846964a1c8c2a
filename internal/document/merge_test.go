package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustJSON(t *testing.T, v Value) string {
	t.Helper()
	b, err := v.MarshalJSON()
	require.NoError(t, err)
	return string(b)
}

func TestMergeNullIncomingKeepsExisting(t *testing.T) {
	existing := MustParse(`{"tier":"gold","tags":["a"]}`)
	got := Merge(existing, Null())
	assert.JSONEq(t, `{"tier":"gold","tags":["a"]}`, mustJSON(t, got))
}

func TestMergeNullExistingTakesIncoming(t *testing.T) {
	got := Merge(Null(), MustParse(`{"tier":"gold"}`))
	assert.JSONEq(t, `{"tier":"gold"}`, mustJSON(t, got))
}

func TestMergeBothNull(t *testing.T) {
	assert.True(t, Merge(Null(), Null()).IsNull())
}

func TestMergeNestedObjects(t *testing.T) {
	existing := MustParse(`{"a":1,"b":{"x":1,"y":2}}`)
	incoming := MustParse(`{"b":{"y":3,"z":4},"c":5}`)
	got := Merge(existing, incoming)
	assert.JSONEq(t, `{"a":1,"b":{"x":1,"y":3,"z":4},"c":5}`, mustJSON(t, got))
}

func TestMergeArraysReplace(t *testing.T) {
	got := Merge(MustParse(`{"tags":["a","b"]}`), MustParse(`{"tags":["c"]}`))
	assert.JSONEq(t, `{"tags":["c"]}`, mustJSON(t, got))
}

func TestMergeNestedNullKeepsKey(t *testing.T) {
	got := Merge(MustParse(`{"region":"eu","tier":"gold"}`), MustParse(`{"region":null}`))
	assert.JSONEq(t, `{"region":null,"tier":"gold"}`, mustJSON(t, got))
	region, ok := got.Field("region")
	require.True(t, ok)
	assert.True(t, region.IsNull())
}

func TestMergeObjectOverScalar(t *testing.T) {
	got := Merge(MustParse(`{"a":"text"}`), MustParse(`{"a":{"b":1}}`))
	assert.JSONEq(t, `{"a":{"b":1}}`, mustJSON(t, got))

	got = Merge(MustParse(`{"a":{"b":1}}`), MustParse(`{"a":7}`))
	assert.JSONEq(t, `{"a":7}`, mustJSON(t, got))
}

func TestMergeNonObjectTopLevel(t *testing.T) {
	got := Merge(MustParse(`{"a":1}`), MustParse(`[1,2]`))
	assert.JSONEq(t, `[1,2]`, mustJSON(t, got))

	got = Merge(MustParse(`"old"`), MustParse(`{"a":1}`))
	assert.JSONEq(t, `{"a":1}`, mustJSON(t, got))
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	existing := MustParse(`{"a":{"b":1},"list":[1]}`)
	incoming := MustParse(`{"a":{"c":2},"list":[2]}`)
	existingBefore := mustJSON(t, existing)
	incomingBefore := mustJSON(t, incoming)

	got := Merge(existing, incoming)
	got.obj["a"].obj["b"] = String("changed")

	assert.Equal(t, existingBefore, mustJSON(t, existing))
	assert.Equal(t, incomingBefore, mustJSON(t, incoming))
}

func TestMergeIsIdempotent(t *testing.T) {
	existing := MustParse(`{"profile":{"tier":"silver","region":"eu"},"tags":["x"]}`)
	incoming := MustParse(`{"profile":{"tier":"gold"},"tags":["y"]}`)
	once := Merge(existing, incoming)
	twice := Merge(once, incoming)
	assert.True(t, Equal(once, twice))
}

func TestMergeEmptyIncomingObject(t *testing.T) {
	existing := MustParse(`{"a":1}`)
	got := Merge(existing, EmptyObject())
	assert.True(t, Equal(existing, got))
}

func TestMergeIncomingKeysSurvive(t *testing.T) {
	incoming := MustParse(`{"a":{"b":{"c":[1,{"d":null}]}},"e":false}`)
	got := Merge(MustParse(`{"a":{"b":{"x":1}},"z":"keep"}`), incoming)

	abc, _ := got.Field("a")
	b, _ := abc.Field("b")
	c, ok := b.Field("c")
	require.True(t, ok)
	assert.Equal(t, KindArray, c.Kind())
	assert.Equal(t, 2, c.Len())
	x, ok := b.Field("x")
	require.True(t, ok)
	assert.Equal(t, "1", string(x.NumberValue()))
	e, _ := got.Field("e")
	assert.Equal(t, KindBool, e.Kind())
	assert.False(t, e.BoolValue())
	z, _ := got.Field("z")
	assert.Equal(t, "keep", z.StringValue())
}
