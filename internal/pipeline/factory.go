package pipeline

import (
	"log/slog"

	"github.com/tjfontaine/hubflow/internal/core/ports"
	"github.com/tjfontaine/hubflow/internal/schema"
)

// NewOrganizer creates the standard flow organizer:
// ValidateSchema, CountObjects, PerformJobs, PersistParameters.
func NewOrganizer(validator *schema.Validator, store ports.ConnectionStore, logger *slog.Logger) *Organizer {
	if validator == nil {
		validator = schema.MustNewValidator()
	}
	logger = loggerOrDefault(logger)

	return NewOrganizerWithStages(logger,
		&ValidateSchema{Validator: validator},
		&CountObjects{},
		&PerformJobs{Logger: logger},
		&PersistParameters{Store: store, Logger: logger, MaxAttempts: DefaultPersistAttempts},
	)
}
