package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// printResult writes v as indented JSON in json mode, otherwise the text
// produced by textFn.
func printResult(w io.Writer, v any, textFn func(io.Writer)) error {
	if opts.Output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	if opts.Output != "text" {
		return fmt.Errorf("unknown output format %q", opts.Output)
	}
	textFn(w)
	return nil
}
