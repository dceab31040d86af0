package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"
	ErrRegistrationOff   ErrCode = "REGISTRATION_CLOSED"
	ErrSelfDelete        ErrCode = "CANNOT_DELETE_SELF"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidScore   ErrCode = "INVALID_SCORE"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"
	ErrInUse    ErrCode = "RESOURCE_IN_USE"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrExamNotOpen       ErrCode = "EXAM_NOT_OPEN"
	ErrExamClosed        ErrCode = "EXAM_CLOSED"
	ErrInvalidEntryToken ErrCode = "INVALID_ENTRY_TOKEN"
	ErrExamLocked        ErrCode = "EXAM_LOCKED"
	ErrAlreadySubmitted  ErrCode = "ALREADY_SUBMITTED"
	ErrAttemptActive     ErrCode = "ATTEMPT_ALREADY_ACTIVE"
	ErrInvalidQuestion   ErrCode = "INVALID_QUESTION"

	// ─── Grading ───────────────────────────────────────────────────────
	ErrAlreadyGraded ErrCode = "ALREADY_GRADED"
	ErrNotManual     ErrCode = "NOT_MANUALLY_GRADED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal           ErrCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrCode = "SERVICE_UNAVAILABLE"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Incorrect email or password."
	case ErrSessionInvalidated:
		return "Your session has ended. Please sign in again."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrStudentAccessOnly:
		return "This resource is for students only."
	case ErrAdminAccessOnly:
		return "This resource is for administrators only."
	case ErrRegistrationOff:
		return "Sign-up is closed. Ask an administrator for an account."
	case ErrSelfDelete:
		return "You cannot delete your own account."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrInvalidScore:
		return "Manual scores must be 0 or 10."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "Resource already exists."
	case ErrInUse:
		return "Resource is still referenced and cannot be removed."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrExamNotOpen:
		return "This exam is not open yet."
	case ErrExamClosed:
		return "This exam has closed."
	case ErrInvalidEntryToken:
		return "Invalid token."
	case ErrExamLocked:
		return "Enter the exam token to unlock this exam."
	case ErrAlreadySubmitted:
		return "You have already submitted this exam."
	case ErrAttemptActive:
		return "This exam is already open in another window."
	case ErrInvalidQuestion:
		return "The question is incomplete for its type."

	// ─── Grading ───────────────────────────────────────────────────────
	case ErrAlreadyGraded:
		return "This submission has already been graded."
	case ErrNotManual:
		return "Only short answer and essay questions are graded by hand."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	case ErrServiceUnavailable:
		return "A required service is unavailable."
	default:
		return "An unexpected error occurred."
	}
}
