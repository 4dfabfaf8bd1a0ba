package rpc

// IntField reads a numeric field from a decoded response body. CBOR
// integers arrive as int64 or uint64 and JSON numbers as float64; all
// collapse to int, and a missing or non-numeric field reads as zero.
func IntField(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
