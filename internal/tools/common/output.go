package common

import (
	"encoding/json"
	"io"
	"os"
)

// CIResult is the --ci output shared by the operator tools.
type CIResult struct {
	OK      bool     `json:"ok"`
	Title   string   `json:"title"`
	Details []string `json:"details,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func NewCIResult(title string, details []string, err error) CIResult {
	res := CIResult{OK: err == nil, Title: title, Details: details}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func WriteCIResult(w io.Writer, res CIResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// PrintCIResult writes the result to stdout. ok is kept for callers that
// track success separately from err.
func PrintCIResult(ok bool, title string, details []string, err error) {
	res := NewCIResult(title, details, err)
	res.OK = ok && err == nil
	_ = WriteCIResult(os.Stdout, res)
}
