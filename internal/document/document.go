package document

// Type identifies which document an image is expected to contain.
type Type string

const (
	TypeIDCardFront Type = "id_card"
	TypeIDCardBack  Type = "id_card_back"
	TypeHealthCard  Type = "health_card"
	TypeSelfie      Type = "hold_card_selfie"
)

// Well-known extracted field names. The extractor may return additional
// fields; the consistency check compares whatever keys both documents share.
const (
	FieldPersonID     = "person_id"
	FieldName         = "name"
	FieldBirthDate    = "birth_date"
	FieldIssueDate    = "issue_date"
	FieldSerialNumber = "serial_number"
)

// Extraction is a Document Extractor outcome for a single image.
type Extraction struct {
	Fields  map[string]string `json:"fields"`
	Valid   bool              `json:"is_valid_bool"`
	Message string            `json:"err_msg,omitempty"`
}

// Field returns the named field, or "" when absent.
func (e *Extraction) Field(name string) string {
	if e == nil || e.Fields == nil {
		return ""
	}
	return e.Fields[name]
}
