package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetNestedPath(t *testing.T) {
	v := Object(map[string]Value{
		"args": Object(map[string]Value{
			"lr": Number(0.01),
			"model": Object(map[string]Value{
				"layers": Number(12),
			}),
		}),
	})

	got, ok := v.Get("args.lr")
	require.True(t, ok)
	f, ok := got.AsNumber()
	require.True(t, ok)
	assert.Equal(t, 0.01, f)

	got, ok = v.Get("args.model.layers")
	require.True(t, ok)
	f, _ = got.AsNumber()
	assert.Equal(t, float64(12), f)

	_, ok = v.Get("args.missing")
	assert.False(t, ok)

	_, ok = v.Get("args.lr.nope")
	assert.False(t, ok, "traversing through a non-object segment must fail")
}

func TestSetPreservesSiblings(t *testing.T) {
	v := Object(map[string]Value{
		"args": Object(map[string]Value{
			"lr":    Number(0.01),
			"epoch": Number(1),
		}),
	})

	out := v.Set("args.lr", Number(0.02))

	lr, _ := out.Get("args.lr")
	f, _ := lr.AsNumber()
	assert.Equal(t, 0.02, f)

	epoch, ok := out.Get("args.epoch")
	require.True(t, ok)
	f, _ = epoch.AsNumber()
	assert.Equal(t, float64(1), f, "sibling field must survive Set")
}

func TestSetCreatesIntermediateObjects(t *testing.T) {
	out := Null().Set("metadata.owner", String("alice"))
	owner, ok := out.Get("metadata.owner")
	require.True(t, ok)
	s, _ := owner.AsString()
	assert.Equal(t, "alice", s)
}

func TestMergeAppliesMultiplePaths(t *testing.T) {
	v := Object(map[string]Value{
		"a": Number(1),
		"b": Number(2),
	})
	out := Merge(v, map[string]Value{
		"b": Number(20),
		"c": Number(3),
	})

	b, _ := out.Get("b")
	f, _ := b.AsNumber()
	assert.Equal(t, float64(20), f)

	a, _ := out.Get("a")
	f, _ = a.AsNumber()
	assert.Equal(t, float64(1), f)

	c, _ := out.Get("c")
	f, _ = c.AsNumber()
	assert.Equal(t, float64(3), f)
}

func TestEqual(t *testing.T) {
	a := Object(map[string]Value{"x": Array(Number(1), String("y"))})
	b := Object(map[string]Value{"x": Array(Number(1), String("y"))})
	c := Object(map[string]Value{"x": Array(Number(1), String("z"))})

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
}

func TestJSONRoundTrip(t *testing.T) {
	raw := `{"name":"trial-1","args":{"lr":0.01,"seeds":[1,2,3]},"active":true,"note":null}`

	var v Value
	require.NoError(t, json.Unmarshal([]byte(raw), &v))

	name, ok := v.Get("name")
	require.True(t, ok)
	s, _ := name.AsString()
	assert.Equal(t, "trial-1", s)

	seeds, ok := v.Get("args.seeds")
	require.True(t, ok)
	arr, ok := seeds.AsArray()
	require.True(t, ok)
	assert.Len(t, arr, 3)

	out, err := json.Marshal(v)
	require.NoError(t, err)

	var roundTripped Value
	require.NoError(t, json.Unmarshal(out, &roundTripped))
	assert.True(t, Equal(v, roundTripped))
}

func TestFromAnyToAny(t *testing.T) {
	in := map[string]interface{}{
		"n": float64(3),
		"s": "hi",
		"arr": []interface{}{
			true, nil,
		},
	}
	v := FromAny(in)
	out := v.ToAny()
	assert.Equal(t, in, out)
}
