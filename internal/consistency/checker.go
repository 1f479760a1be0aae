package consistency

import (
	"fmt"
	"sort"

	"github.com/example/id-verify/internal/document"
)

// Result is the outcome of a cross-document field comparison.
type Result struct {
	Valid            bool     `json:"is_valid_bool"`
	MismatchedFields []string `json:"mismatched_fields,omitempty"`
	Message          string   `json:"err_msg,omitempty"`
}

// Check compares the fields extracted from the ID-card front and back. A
// missing or invalid upstream extraction is an automatic consistency failure,
// not an error. Only keys present on both documents are compared.
func Check(front, back *document.Extraction) Result {
	if front == nil || !front.Valid || back == nil || !back.Valid {
		return Result{
			Valid:   false,
			Message: "id card OCR data is incomplete",
		}
	}

	var mismatched []string
	for key, backValue := range back.Fields {
		frontValue, ok := front.Fields[key]
		if !ok {
			continue
		}
		if frontValue != backValue {
			mismatched = append(mismatched, key)
		}
	}
	sort.Strings(mismatched)

	if len(mismatched) > 0 {
		return Result{
			Valid:            false,
			MismatchedFields: mismatched,
			Message: fmt.Sprintf("id card front and back data mismatch (%s: %q != %q)",
				mismatched[0], front.Fields[mismatched[0]], back.Fields[mismatched[0]]),
		}
	}

	return Result{Valid: true}
}
