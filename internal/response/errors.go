package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden          ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly  ErrCode = "STUDENT_ACCESS_ONLY"
	ErrLecturerAccessOnly ErrCode = "LECTURER_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	ErrExamNotAvailable   ErrCode = "EXAM_NOT_AVAILABLE"
	ErrAlreadyAttempted   ErrCode = "ALREADY_ATTEMPTED"
	ErrAttemptNotFound    ErrCode = "ATTEMPT_NOT_FOUND"
	ErrAlreadyFinal       ErrCode = "ATTEMPT_ALREADY_FINAL"
	ErrAttemptNotFinal    ErrCode = "ATTEMPT_NOT_FINAL"
	ErrDeadlineNotReached ErrCode = "DEADLINE_NOT_REACHED"
	ErrQuestionNotInExam  ErrCode = "QUESTION_NOT_IN_EXAM"

	// ─── Grading ───────────────────────────────────────────────────────
	ErrOutOfRangeMarks ErrCode = "OUT_OF_RANGE_MARKS"
	ErrAlreadyGraded   ErrCode = "ALREADY_GRADED"
	ErrNotEssay        ErrCode = "NOT_ESSAY_QUESTION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrInvalidCredentials:
		return "Email or password is incorrect."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid or expired."
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."
	case ErrLecturerAccessOnly:
		return "This resource is restricted to lecturers."
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrNotFound:
		return "Resource not found."
	case ErrExamNotAvailable:
		return "This exam is not currently available."
	case ErrAlreadyAttempted:
		return "You have already completed this exam. Only one attempt is permitted."
	case ErrAttemptNotFound:
		return "No attempt exists for this exam."
	case ErrAlreadyFinal:
		return "This attempt has been finalized and can no longer be changed."
	case ErrAttemptNotFinal:
		return "This attempt has not been finalized yet."
	case ErrDeadlineNotReached:
		return "The exam deadline has not been reached yet."
	case ErrQuestionNotInExam:
		return "The question does not belong to this exam."
	case ErrOutOfRangeMarks:
		return "Awarded marks must be between zero and the question's maximum."
	case ErrAlreadyGraded:
		return "This response has already been graded."
	case ErrNotEssay:
		return "Only essay responses can be graded manually."
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
