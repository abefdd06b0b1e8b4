package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infinity086/labtasker/internal/document"
)

func doc() document.Value {
	return document.Object(map[string]document.Value{
		"args": document.Object(map[string]document.Value{
			"lr":    document.Number(0.1),
			"batch": document.Number(32),
		}),
		"metadata": document.Object(map[string]document.Value{
			"tag": document.String("smoke"),
		}),
	})
}

func mustCompile(t *testing.T, expr document.Value) Filter {
	t.Helper()
	f, err := Compile(expr)
	require.NoError(t, err)
	return f
}

func TestCompileNullMatchesEverything(t *testing.T) {
	f := mustCompile(t, document.Null())
	assert.True(t, f.Match(doc()))
}

func TestEqFilter(t *testing.T) {
	expr := document.Object(map[string]document.Value{
		"path":  document.String("args.lr"),
		"op":    document.String("eq"),
		"value": document.Number(0.1),
	})
	assert.True(t, mustCompile(t, expr).Match(doc()))

	expr2 := document.Object(map[string]document.Value{
		"path":  document.String("args.lr"),
		"op":    document.String("eq"),
		"value": document.Number(0.2),
	})
	assert.False(t, mustCompile(t, expr2).Match(doc()))
}

func TestMissingPathComparisonsAreFalse(t *testing.T) {
	for _, op := range []Op{OpEq, OpNe, OpGt, OpGte, OpLt, OpLte} {
		expr := document.Object(map[string]document.Value{
			"path":  document.String("args.missing"),
			"op":    document.String(string(op)),
			"value": document.Number(1),
		})
		assert.False(t, mustCompile(t, expr).Match(doc()), "op %s on missing path must be false", op)
	}
}

func TestExistsFilter(t *testing.T) {
	expr := document.Object(map[string]document.Value{
		"path": document.String("args.batch"),
		"op":   document.String("exists"),
	})
	assert.True(t, mustCompile(t, expr).Match(doc()))

	expr2 := document.Object(map[string]document.Value{
		"path": document.String("args.missing"),
		"op":   document.String("exists"),
	})
	assert.False(t, mustCompile(t, expr2).Match(doc()))
}

func TestAndOrNot(t *testing.T) {
	batchExists := document.Object(map[string]document.Value{
		"path": document.String("args.batch"), "op": document.String("exists"),
	})
	lrTooHigh := document.Object(map[string]document.Value{
		"path": document.String("args.lr"), "op": document.String("gt"), "value": document.Number(1),
	})

	and := document.Object(map[string]document.Value{
		"and": document.Array(batchExists, lrTooHigh),
	})
	assert.False(t, mustCompile(t, and).Match(doc()))

	or := document.Object(map[string]document.Value{
		"or": document.Array(batchExists, lrTooHigh),
	})
	assert.True(t, mustCompile(t, or).Match(doc()))

	not := document.Object(map[string]document.Value{
		"not": lrTooHigh,
	})
	assert.True(t, mustCompile(t, not).Match(doc()))
}

func TestInFilter(t *testing.T) {
	expr := document.Object(map[string]document.Value{
		"path": document.String("metadata.tag"),
		"op":   document.String("in"),
		"value": document.Array(
			document.String("smoke"), document.String("nightly"),
		),
	})
	assert.True(t, mustCompile(t, expr).Match(doc()))
}

func TestRequireFields(t *testing.T) {
	assert.True(t, RequireFields(doc(), []string{"args.lr", "args.batch"}))
	assert.False(t, RequireFields(doc(), []string{"args.lr", "args.missing"}))
}

func TestApplyUpdatePreservesSiblings(t *testing.T) {
	update := document.Object(map[string]document.Value{
		"args": document.Object(map[string]document.Value{
			"lr": document.Number(0.05),
		}),
	})
	out := ApplyUpdate(doc(), update)

	lr, ok := out.Get("args.lr")
	require.True(t, ok)
	f, _ := lr.AsNumber()
	assert.Equal(t, 0.05, f)

	batch, ok := out.Get("args.batch")
	require.True(t, ok)
	f, _ = batch.AsNumber()
	assert.Equal(t, float64(32), f)

	tag, ok := out.Get("metadata.tag")
	require.True(t, ok)
	s, _ := tag.AsString()
	assert.Equal(t, "smoke", s)
}
