package consistency

import (
	"strings"
	"testing"

	"github.com/example/id-verify/internal/document"
)

func extraction(valid bool, fields map[string]string) *document.Extraction {
	return &document.Extraction{Fields: fields, Valid: valid}
}

func TestCheckMatchingDocuments(t *testing.T) {
	front := extraction(true, map[string]string{
		document.FieldPersonID: "A123456789",
		document.FieldName:     "Wang Xiaoming",
	})
	back := extraction(true, map[string]string{
		document.FieldPersonID:     "A123456789",
		document.FieldSerialNumber: "0123456789",
	})

	out := Check(front, back)
	if !out.Valid {
		t.Fatalf("expected valid, got %+v", out)
	}
	if len(out.MismatchedFields) != 0 {
		t.Fatalf("expected no mismatches, got %v", out.MismatchedFields)
	}
}

func TestCheckIgnoresKeysMissingFromOneSide(t *testing.T) {
	front := extraction(true, map[string]string{document.FieldName: "Wang Xiaoming"})
	back := extraction(true, map[string]string{document.FieldSerialNumber: "0123456789"})

	if out := Check(front, back); !out.Valid {
		t.Fatalf("disjoint fields must not mismatch, got %+v", out)
	}
}

func TestCheckFlagsMismatchedSharedFields(t *testing.T) {
	front := extraction(true, map[string]string{
		document.FieldPersonID: "A123456789",
		document.FieldName:     "Wang Xiaoming",
	})
	back := extraction(true, map[string]string{
		document.FieldPersonID: "B987654321",
		document.FieldName:     "Wang Xiaoming",
	})

	out := Check(front, back)
	if out.Valid {
		t.Fatal("expected mismatch to invalidate the result")
	}
	if len(out.MismatchedFields) != 1 || out.MismatchedFields[0] != document.FieldPersonID {
		t.Fatalf("unexpected mismatched fields: %v", out.MismatchedFields)
	}
	if !strings.Contains(out.Message, document.FieldPersonID) {
		t.Fatalf("message should name the mismatched field, got %q", out.Message)
	}
}

func TestCheckInvalidUpstreamIsAutomaticFailure(t *testing.T) {
	valid := extraction(true, map[string]string{document.FieldPersonID: "A123456789"})

	cases := []struct {
		name        string
		front, back *document.Extraction
	}{
		{"nil front", nil, valid},
		{"nil back", valid, nil},
		{"invalid front", extraction(false, nil), valid},
		{"invalid back", valid, extraction(false, nil)},
	}
	for _, tc := range cases {
		out := Check(tc.front, tc.back)
		if out.Valid {
			t.Fatalf("%s: expected automatic failure", tc.name)
		}
		if out.Message == "" {
			t.Fatalf("%s: expected a message", tc.name)
		}
	}
}
