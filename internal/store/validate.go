package store

import (
	"github.com/aristath/claude-pilot/internal/corerr"
	"github.com/go-playground/validator/v10"
)

// validate is shared across every insert-time struct check in this package,
// the way the teacher's repos use one package-level validator.New().
var validate = validator.New()

type promptInput struct {
	Title   string `validate:"required"`
	Content string `validate:"required"`
}

// ScheduleConfig is deliberately not required here: a `triggered` job has no
// schedule config at all (§3), and the richer per-schedule-type shape
// checks live in model.Job.ValidateSchedule, run by the Scheduler at
// add_job time rather than at raw insert time.
type jobInput struct {
	Name       string `validate:"required"`
	MaxRetries int    `validate:"min=0"`
}

// validateStruct runs v and translates the first failing field into a
// corerr.Validation error with a human-readable message.
func validateStruct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return corerr.New(corerr.Validation, fe.Field()+" failed "+fe.Tag()+" validation")
		}
		return corerr.Wrap(corerr.Validation, "validation failed", err)
	}
	return nil
}
