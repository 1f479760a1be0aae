package verdict

import "fmt"

// Aggregate folds the five recorded stage outcomes into the final verdict.
// It never fails: a stage that is somehow absent is treated as an invalid
// outcome, so a broken stage can only ever produce is_valid_bool=false.
func Aggregate(stages map[StageKey]StageResult, thresholds Thresholds) *Result {
	idCard := stageOrInvalid(stages, StageIDCard)
	idCardBack := stageOrInvalid(stages, StageIDCardBack)
	healthCard := stageOrInvalid(stages, StageHealthCard)
	info := stageOrInvalid(stages, StageInfoConsistency)
	face := stageOrInvalid(stages, StageFace)

	out := &Result{
		OCRValidation: OCRValidation{
			IDCard:     documentValidation(idCard),
			IDCardBack: documentValidation(idCardBack),
			HealthCard: documentValidation(healthCard),
		},
	}

	// Consistency over invalid or absent OCR data is never valid.
	infoValid := info.Valid && idCard.Valid && idCardBack.Valid
	out.InfoValidation = InfoValidation{
		Valid:  infoValid,
		ErrMsg: info.Message,
	}
	if info.Consistency != nil {
		out.InfoValidation.MismatchedFields = info.Consistency.MismatchedFields
	}
	if !infoValid && out.InfoValidation.ErrMsg == "" {
		out.InfoValidation.ErrMsg = "id card OCR data is incomplete"
	}

	out.FaceValidation = faceValidation(face, thresholds)

	failures := map[StageKey]bool{
		StageIDCard:          !idCard.Valid,
		StageIDCardBack:      !idCardBack.Valid,
		StageHealthCard:      !healthCard.Valid,
		StageInfoConsistency: !out.InfoValidation.Valid,
		StageFace:            !out.FaceValidation.Valid,
	}

	out.Valid = true
	for _, key := range StagePriority {
		if failures[key] {
			out.Valid = false
			out.ErrMsg = failureMessage(key, stages[key], out)
			break
		}
	}

	return out
}

func stageOrInvalid(stages map[StageKey]StageResult, key StageKey) StageResult {
	if r, ok := stages[key]; ok {
		return r
	}
	return StageResult{Valid: false, Message: "stage did not complete"}
}

func documentValidation(r StageResult) DocumentValidation {
	fields := map[string]string{}
	if r.Extraction != nil && r.Extraction.Fields != nil {
		fields = r.Extraction.Fields
	}
	return DocumentValidation{
		OCR: fields,
		Verification: Verification{
			Valid:  r.Valid,
			ErrMsg: r.Message,
		},
	}
}

func faceValidation(r StageResult, thresholds Thresholds) FaceValidation {
	out := FaceValidation{ErrMsg: r.Message}
	if r.Face != nil {
		out.CardScore = r.Face.CardScore
		out.PersonScore = r.Face.PersonScore
	}

	switch {
	case !r.Valid:
		// Stage-level failure (face counts, collaborator exhaustion).
	case out.CardScore < thresholds.CardFace:
		out.ErrMsg = fmt.Sprintf("card face similarity %.2f below threshold %.2f", out.CardScore, thresholds.CardFace)
	case out.PersonScore < thresholds.PersonFace:
		out.ErrMsg = fmt.Sprintf("person face similarity %.2f below threshold %.2f", out.PersonScore, thresholds.PersonFace)
	default:
		out.Valid = true
	}
	return out
}

func failureMessage(key StageKey, r StageResult, out *Result) string {
	msg := r.Message
	if key == StageInfoConsistency && out.InfoValidation.ErrMsg != "" {
		msg = out.InfoValidation.ErrMsg
	}
	if key == StageFace && out.FaceValidation.ErrMsg != "" {
		msg = out.FaceValidation.ErrMsg
	}
	if msg == "" {
		msg = "validation failed"
	}
	return fmt.Sprintf("%s: %s", key, msg)
}
