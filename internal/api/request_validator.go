package api

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	tasksync "github.com/hyperengineering/tasksync/internal/sync"
	"github.com/hyperengineering/tasksync/internal/validation"
)

// newRequestValidator returns the validator for push envelopes. It checks
// structure only: unknown kind or operation values pass here and are
// reported per operation by the engine.
func newRequestValidator() *validator.Validate {
	v := validation.New()
	// Registration only fails for an empty tag or a nil func.
	_ = v.RegisterValidation("json_object", func(fl validator.FieldLevel) bool {
		raw, ok := fl.Field().Interface().(json.RawMessage)
		return ok && tasksync.IsJSONObject(raw)
	})
	v.RegisterStructValidation(operationEnvelope, tasksync.Operation{})
	return v
}

// operationEnvelope enforces the per-operation fields: a create needs its
// clientGeneratedId, an update or delete needs a clientVersion and
// something to address the record by.
func operationEnvelope(sl validator.StructLevel) {
	op := sl.Current().Interface().(tasksync.Operation)

	switch op.Operation {
	case tasksync.OpCreate:
		if op.ClientGeneratedID == "" {
			sl.ReportError(op.ClientGeneratedID, "clientGeneratedId", "ClientGeneratedID", "required", "")
		}
	case tasksync.OpUpdate, tasksync.OpDelete:
		if op.ClientVersion == nil {
			sl.ReportError(op.ClientVersion, "clientVersion", "ClientVersion", "required", "")
		}
		if op.TargetID() == "" && op.ClientGeneratedID == "" {
			sl.ReportError(op.EntityID, "entityId", "EntityID", "target", "")
		}
	}
}
