package contract

import "errors"

var (
	ErrConfiguration   = errors.New("configuration fault")
	ErrRouting         = errors.New("routing fault")
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")
	ErrToolArguments   = errors.New("malformed tool arguments")
	ErrUnknownTool     = errors.New("unknown tool")

	ErrConfirmationNotFound = errors.New("no pending confirmation for correlation id")
	ErrTurnAborted          = errors.New("turn aborted")
)

// GenericFailureNotice is the only failure text a client ever sees for an aborted turn.
const GenericFailureNotice = "Sorry, something went wrong while preparing the answer. Please try again."
