package kind

import (
	"errors"

	"github.com/hyperengineering/tasksync/internal/entity"
)

var (
	// ErrUnsupportedOperation indicates an operation type no processor handles.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrUnsupportedKind indicates an entityKind with no registered processor.
	ErrUnsupportedKind = errors.New("unsupported entity kind")

	// ErrInvalidReference indicates a payload references a record the
	// owner does not have.
	ErrInvalidReference = errors.New("invalid reference")

	// ErrInvalidPayload indicates the operation data failed decoding or
	// validation.
	ErrInvalidPayload = entity.ErrInvalidPayload
)
