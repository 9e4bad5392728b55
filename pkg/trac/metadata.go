package trac

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	apperrors "github.com/spec-kit/trac-client/pkg/util"
)

// ticketMetadata caches the permitted-value sets advertised by the tracker's
// ticket forms. Each set is loaded at most once per Ticket and never
// refreshed, even if the remote configuration changes underneath.
type ticketMetadata struct {
	createLoaded bool
	updateLoaded bool

	types       []string
	priorities  []string
	components  []string
	milestones  []string
	severities  []string
	resolutions []string
}

// loadCreateMetadata scrapes the new-ticket form for the permitted values of
// the enumerated properties. Failure to locate the form means ticket
// operations are unavailable; a located form with an absent or empty select
// merely leaves that property unconstrained.
func (t *Ticket) loadCreateMetadata(ctx context.Context) error {
	if t.metadata.createLoaded {
		return nil
	}
	if err := t.conn.EnsureLoggedIn(ctx); err != nil {
		return err
	}
	form, _, err := t.conn.DiscoverForm(ctx, "/newticket", newTicketFormPredicate)
	if err != nil {
		return err
	}
	t.metadata.types = permittedValues(form, "field_type")
	t.metadata.priorities = permittedValues(form, "field_priority")
	t.metadata.components = permittedValues(form, "field_component")
	t.metadata.milestones = permittedValues(form, "field_milestone")
	t.metadata.severities = permittedValues(form, "field_severity")
	t.metadata.createLoaded = true
	t.logger.Debug("creation metadata loaded",
		zap.Int("types", len(t.metadata.types)),
		zap.Int("priorities", len(t.metadata.priorities)),
		zap.Int("components", len(t.metadata.components)),
		zap.Int("milestones", len(t.metadata.milestones)),
		zap.Int("severities", len(t.metadata.severities)))
	return nil
}

// loadUpdateMetadata scrapes this ticket's update form for permitted
// resolution values. Only meaningful once the ticket is loaded.
func (t *Ticket) loadUpdateMetadata(ctx context.Context) error {
	if t.metadata.updateLoaded {
		return nil
	}
	if !t.loaded {
		return apperrors.NewValidationError("update metadata requires a loaded ticket", nil)
	}
	if err := t.conn.EnsureLoggedIn(ctx); err != nil {
		return err
	}
	form, _, err := t.conn.DiscoverForm(ctx, fmt.Sprintf("/ticket/%d", t.ID()), ticketFormPredicate)
	if err != nil {
		return err
	}
	t.metadata.resolutions = permittedValues(form, "field_resolution")
	t.metadata.updateLoaded = true
	t.logger.Debug("update metadata loaded",
		zap.Int("id", t.ID()),
		zap.Int("resolutions", len(t.metadata.resolutions)))
	return nil
}

// permittedValues reads a select's options, dropping the blank "unset"
// choice trackers render first.
func permittedValues(form *Form, field string) []string {
	var values []string
	for _, option := range form.SelectOptions(field) {
		if option != "" {
			values = append(values, option)
		}
	}
	return values
}

// ValidTypes returns the cached permitted ticket types.
func (t *Ticket) ValidTypes() []string { return t.metadata.types }

// ValidPriorities returns the cached permitted priorities.
func (t *Ticket) ValidPriorities() []string { return t.metadata.priorities }

// ValidComponents returns the cached permitted components.
func (t *Ticket) ValidComponents() []string { return t.metadata.components }

// ValidMilestones returns the cached permitted milestones.
func (t *Ticket) ValidMilestones() []string { return t.metadata.milestones }

// ValidSeverities returns the cached permitted severities; empty when the
// tracker does not configure severities at all.
func (t *Ticket) ValidSeverities() []string { return t.metadata.severities }

// ValidResolutions returns the cached permitted resolutions.
func (t *Ticket) ValidResolutions() []string { return t.metadata.resolutions }
