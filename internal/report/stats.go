package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// WriteStats writes the checkpoint as an indented JSON object with sorted
// keys. NaN and infinities become null.
func WriteStats(w io.Writer, values map[string]float64) error {
	out := make(map[string]*float64, len(values))
	for k, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[k] = nil
			continue
		}
		v := v
		out[k] = &v
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	return nil
}

// ReadStats parses a checkpoint written by WriteStats; nulls read back as NaN.
func ReadStats(r io.Reader) (map[string]float64, error) {
	var raw map[string]*float64
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if v == nil {
			out[k] = math.NaN()
			continue
		}
		out[k] = *v
	}
	return out, nil
}
