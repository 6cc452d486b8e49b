package cli

import (
	"encoding/json"
	"io"
)

// errorOutput is the JSON shape of a failed run.
type errorOutput struct {
	Target string `json:"target,omitempty"`
	Error  string `json:"error"`
}

// WriteJSON writes v as one compact JSON line.
func WriteJSON(w io.Writer, v any) error {
	outputMu.Lock()
	defer outputMu.Unlock()
	return json.NewEncoder(w).Encode(v)
}
