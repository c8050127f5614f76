package writeback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPretty_KeepsOrderAndNumbers(t *testing.T) {
	got := Pretty([]byte(`{"z":1.50,"a":{"b":[1,2]}}`))
	expected := "{\n  \"z\": 1.50,\n  \"a\": {\n    \"b\": [\n      1,\n      2\n    ]\n  }\n}"
	assert.Equal(t, expected, string(got))
}

func TestPretty_InvalidPassthrough(t *testing.T) {
	input := []byte("not json {")
	assert.Equal(t, input, Pretty(input), "unparseable content should return original buffer")
	assert.Empty(t, Pretty(nil))
}

func TestCanonical_SortsKeys(t *testing.T) {
	a, err := Canonical(map[string]any{"b": 1, "a": "<x>"})
	require.NoError(t, err)
	b, err := Canonical(map[string]any{"a": "<x>", "b": 1})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, "{\n  \"a\": \"<x>\",\n  \"b\": 1\n}", string(a))
}

func TestCompact(t *testing.T) {
	got, err := Compact([]byte("{\n  \"a\": 1\n}\n"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	_, err = Compact([]byte("{"))
	assert.Error(t, err)
}
