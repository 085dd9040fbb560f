package constants

// Stage names a pipeline stage an attempt belongs to.
type Stage string

const (
	StageOCR     Stage = "OCR"     // image -> text
	StageExtract Stage = "EXTRACT" // text -> structured value
)

// MaxStageRetries caps the retries per file per stage after the first attempt.
const MaxStageRetries = 2

// FailureKind is the second column of the failures file.
type FailureKind string

// Stable values (written verbatim to the failures file).
const (
	FailureOCR        FailureKind = "OCR"
	FailureOCRTimeout FailureKind = "OCR_TIMEOUT"
	FailureLLM        FailureKind = "LLM"
	FailureLLMTimeout FailureKind = "LLM_TIMEOUT"
	FailureAnnotation FailureKind = "ANNOTATION" // ground truth missing or corrupt at scoring time
	FailureCancelled  FailureKind = "CANCELLED"  // run context ended before the file finished
)

// FailureKindFor maps a stage outcome to the failure kind recorded once
// retries are exhausted.
func FailureKindFor(stage Stage, timedOut bool) FailureKind {
	switch {
	case stage == StageOCR && timedOut:
		return FailureOCRTimeout
	case stage == StageOCR:
		return FailureOCR
	case timedOut:
		return FailureLLMTimeout
	default:
		return FailureLLM
	}
}
