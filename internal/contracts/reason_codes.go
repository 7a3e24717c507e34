package contracts

// ReasonCode is a stable machine-readable code attached to per-item results.
type ReasonCode string

const (
	ReasonCodeFetchFailed         ReasonCode = "fetch_failed"
	ReasonCodeItemNotFound        ReasonCode = "item_not_found"
	ReasonCodeEmptyTitle          ReasonCode = "empty_title"
	ReasonCodeSubmissionFailed    ReasonCode = "submission_failed"
	ReasonCodeImportFailed        ReasonCode = "import_failed"
	ReasonCodeImportTimedOut      ReasonCode = "import_timed_out"
	ReasonCodeCommentsUnavailable ReasonCode = "comments_unavailable"
	ReasonCodeAssignmentFailed    ReasonCode = "assignment_failed"
	ReasonCodeCloseFailed         ReasonCode = "close_failed"
	ReasonCodeTaggingFailed       ReasonCode = "tagging_failed"
	ReasonCodeValidationFailed    ReasonCode = "validation_failed"
	ReasonCodeAuthFailed          ReasonCode = "auth_failed"
	ReasonCodeTransportError      ReasonCode = "transport_error"
	ReasonCodeInternalError       ReasonCode = "internal_error"
)
