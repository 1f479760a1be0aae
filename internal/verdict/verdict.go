package verdict

import (
	"github.com/example/id-verify/internal/consistency"
	"github.com/example/id-verify/internal/document"
)

// StageKey names one logical stage of the verification pipeline.
type StageKey string

const (
	StageIDCard          StageKey = "id_card"
	StageIDCardBack      StageKey = "id_card_back"
	StageHealthCard      StageKey = "health_card"
	StageInfoConsistency StageKey = "info_consistency"
	StageFace            StageKey = "face"
)

// StagePriority is the fixed order used to pick which failing stage names the
// top-level error message.
var StagePriority = []StageKey{
	StageIDCard,
	StageIDCardBack,
	StageHealthCard,
	StageInfoConsistency,
	StageFace,
}

// AllStages lists every stage a task must record before aggregation.
func AllStages() []StageKey {
	out := make([]StageKey, len(StagePriority))
	copy(out, StagePriority)
	return out
}

// FaceScores carries the two similarity scores produced by the face stage:
// document face vs the card face in the selfie, and document face vs the
// person in the selfie. Scores are in [0,1].
type FaceScores struct {
	CardScore   float64 `json:"id_card_faces_compare_score"`
	PersonScore float64 `json:"id_card_vs_person_face_compare_score"`
}

// StageResult is one stage's recorded outcome. Exactly one payload pointer is
// set, matching the stage kind; a failed stage may carry none.
type StageResult struct {
	Valid       bool                 `json:"is_valid_bool"`
	Message     string               `json:"err_msg,omitempty"`
	Extraction  *document.Extraction `json:"extraction,omitempty"`
	Consistency *consistency.Result  `json:"consistency,omitempty"`
	Face        *FaceScores          `json:"face,omitempty"`
}

// Verification is the nested pass/fail verdict attached to each sub-result.
type Verification struct {
	Valid  bool   `json:"is_valid_bool"`
	ErrMsg string `json:"err_msg,omitempty"`
}

// DocumentValidation is one document's OCR output plus its verdict.
type DocumentValidation struct {
	OCR          map[string]string `json:"ocr"`
	Verification Verification      `json:"verification"`
}

// OCRValidation groups the three per-document validations.
type OCRValidation struct {
	IDCard     DocumentValidation `json:"id_card"`
	IDCardBack DocumentValidation `json:"id_card_back"`
	HealthCard DocumentValidation `json:"health_card"`
}

// InfoValidation reports the cross-document consistency verdict.
type InfoValidation struct {
	Valid            bool     `json:"is_valid_bool"`
	MismatchedFields []string `json:"mismatched_fields,omitempty"`
	ErrMsg           string   `json:"err_msg,omitempty"`
}

// FaceValidation reports the face comparison verdict and both scores.
type FaceValidation struct {
	Valid       bool    `json:"is_valid_bool"`
	ErrMsg      string  `json:"err_msg,omitempty"`
	CardScore   float64 `json:"id_card_faces_compare_score"`
	PersonScore float64 `json:"id_card_vs_person_face_compare_score"`
}

// Result is the aggregated verdict returned to pollers once a task is
// terminal. The presence of the top-level is_valid_bool key on the wire is
// what tells a client the task has finished.
type Result struct {
	OCRValidation  OCRValidation  `json:"ocr_validation"`
	InfoValidation InfoValidation `json:"info_validation"`
	FaceValidation FaceValidation `json:"face_validation"`
	Valid          bool           `json:"is_valid_bool"`
	ErrMsg         string         `json:"err_msg,omitempty"`
}

// Thresholds are the configured minimum face similarity scores.
type Thresholds struct {
	CardFace   float64
	PersonFace float64
}
