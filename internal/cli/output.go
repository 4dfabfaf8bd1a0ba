package cli

import (
	"encoding/json"
	"os"
)

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// boolMark renders a yes/no column.
func boolMark(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
