package rpc

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func TestIntField(t *testing.T) {
	m := map[string]interface{}{
		"unsigned": uint64(7),
		"signed":   int64(-3),
		"float":    float64(42),
		"string":   "12",
	}
	require.Equal(t, 7, IntField(m, "unsigned"))
	require.Equal(t, -3, IntField(m, "signed"))
	require.Equal(t, 42, IntField(m, "float"))
	require.Zero(t, IntField(m, "string"))
	require.Zero(t, IntField(m, "missing"))
	require.Zero(t, IntField(nil, "unsigned"))
}

func TestIntFieldReadsDecodedCBOR(t *testing.T) {
	raw, err := cbor.Marshal(map[string]interface{}{"expiresIn": 3600})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, decMode.Unmarshal(raw, &decoded))
	require.Equal(t, 3600, IntField(decoded, "expiresIn"))
}
