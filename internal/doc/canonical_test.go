package doc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	v := map[string]any{
		"value": json.Number("42"),
		"name":  "test",
	}

	out, err := MarshalCanonical(v)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"test","value":42}`, string(out))
}

func TestMarshalCanonical_Deterministic(t *testing.T) {
	v, err := DecodeData([]byte(`{"b":1,"a":{"d":true,"c":[1,"x",null]}}`))
	require.NoError(t, err)

	first, err := MarshalCanonical(v)
	require.NoError(t, err)
	second, err := MarshalCanonical(v)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, `{"a":{"c":[1,"x",null],"d":true},"b":1}`, string(first))
}

func TestMarshalCanonical_PreservesNumberLiterals(t *testing.T) {
	v, err := DecodeData([]byte(`{"int":42,"float":4.5,"big":10000000000}`))
	require.NoError(t, err)

	out, err := MarshalCanonical(v)
	require.NoError(t, err)
	assert.Equal(t, `{"big":10000000000,"float":4.5,"int":42}`, string(out))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{"html": "<a>&</a>"})
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<a>&</a>"}`, string(out))
}

func TestMarshalCanonical_GoNumericTypes(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{
		"i":  7,
		"i6": int64(9),
		"f":  float64(42),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"f":42,"i":7,"i6":9}`, string(out))
}

func TestMarshalCanonical_UnsupportedType(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestDecodeData_UsesNumber(t *testing.T) {
	v, err := DecodeData([]byte(`{"value":42}`))
	require.NoError(t, err)

	obj, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("42"), obj["value"])
}
