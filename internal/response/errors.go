package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrAuthorizationDenied ErrCode = "AUTHORIZATION_DENIED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrExamNotFound           ErrCode = "EXAM_NOT_FOUND"
	ErrNoQuestions            ErrCode = "NO_QUESTIONS"
	ErrSourceUnavailable      ErrCode = "SOURCE_UNAVAILABLE"
	ErrSessionNotFound        ErrCode = "SESSION_NOT_FOUND"
	ErrSessionClosed          ErrCode = "SESSION_CLOSED"
	ErrInvalidOption          ErrCode = "INVALID_OPTION"
	ErrExamMisconfigured      ErrCode = "EXAM_MISCONFIGURED"
	ErrPersistenceUnavailable ErrCode = "PERSISTENCE_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Roll number or password is incorrect."
	case ErrSessionInvalidated:
		return "Your session has ended. Please log in again."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."
	case ErrTokenExpired:
		return "The authentication token has expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrAuthorizationDenied:
		return "You are not enrolled in the batch for this exam."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Exam session ──────────────────────────────────────────────────
	case ErrExamNotFound:
		return "Exam not found."
	case ErrNoQuestions:
		return "This exam has no usable questions."
	case ErrSourceUnavailable:
		return "Questions could not be loaded. Please try again."
	case ErrSessionNotFound:
		return "No exam session is running."
	case ErrSessionClosed:
		return "This exam session has already ended."
	case ErrInvalidOption:
		return "The selected option does not exist for this question."
	case ErrExamMisconfigured:
		return "This exam is not configured correctly."
	case ErrPersistenceUnavailable:
		return "Results are temporarily unavailable."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
