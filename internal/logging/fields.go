package logging

// Standardized attribute keys shared across the codebase. Keeping them in one
// place keeps log output greppable.
const (
	FieldComponent = "component"
	FieldEventType = "event_type"
	FieldItemID    = "item_id"
	FieldBatchID   = "batch_id"
	FieldRequestID = "request_id"
	FieldStage     = "stage"
	FieldEngine    = "engine"
	FieldService   = "service"
	FieldErrorKind = "error_kind"
	FieldStatus    = "status"
)
