package lifecycle

import (
	"slices"

	"homeproject-backend/internal/errs"
	"homeproject-backend/internal/models"
)

type Event string

const (
	EventAttachImage      Event = "attach_image"
	EventRequestPreview   Event = "request_preview"
	EventPreviewSucceeded Event = "preview_succeeded"
	EventPreviewFailed    Event = "preview_failed"
	EventRequestPlan      Event = "request_plan"
	EventPlanSucceeded    Event = "plan_succeeded"
	EventPlanFailed       Event = "plan_failed"
	EventSkipPreview      Event = "skip_preview"
	EventStartBuild       Event = "start_build"
)

type rule struct {
	from []models.ProjectStatus
	// to is empty when the event leaves the status unchanged.
	to models.ProjectStatus
}

var regenerable = []models.ProjectStatus{
	models.StatusDraft,
	models.StatusPreviewReady,
	models.StatusPreviewError,
	models.StatusPlanReady,
	models.StatusPlanError,
	models.StatusReady,
}

var transitions = map[Event]rule{
	EventAttachImage: {from: []models.ProjectStatus{
		models.StatusDraft,
		models.StatusPreviewReady,
		models.StatusPreviewError,
		models.StatusPlanReady,
		models.StatusPlanError,
		models.StatusReady,
		models.StatusInProgress,
	}},
	EventRequestPreview:   {from: regenerable, to: models.StatusPreviewRequested},
	EventPreviewSucceeded: {from: []models.ProjectStatus{models.StatusPreviewRequested}, to: models.StatusPreviewReady},
	EventPreviewFailed:    {from: []models.ProjectStatus{models.StatusPreviewRequested}, to: models.StatusPreviewError},
	EventRequestPlan:      {from: regenerable, to: models.StatusPlanRequested},
	EventPlanSucceeded:    {from: []models.ProjectStatus{models.StatusPlanRequested}, to: models.StatusPlanReady},
	EventPlanFailed:       {from: []models.ProjectStatus{models.StatusPlanRequested}, to: models.StatusPlanError},
	EventSkipPreview: {from: []models.ProjectStatus{
		models.StatusDraft,
		models.StatusPreviewRequested,
		models.StatusPreviewError,
	}, to: models.StatusReady},
	EventStartBuild: {from: []models.ProjectStatus{
		models.StatusReady,
		models.StatusPreviewReady,
		models.StatusPlanReady,
	}, to: models.StatusInProgress},
}

// Transition returns the status a project in state moves to on event, or a
// conflict error when the event is not legal from state. Legacy "new" is
// treated as draft.
func Transition(state models.ProjectStatus, event Event) (models.ProjectStatus, error) {
	r, ok := transitions[event]
	if !ok {
		return "", errs.Validation("unknown event %q", event)
	}
	current := state.Canonical()
	if !slices.Contains(r.from, current) {
		return "", errs.Conflict("cannot %s while project is %s", event, current)
	}
	if r.to == "" {
		return current, nil
	}
	return r.to, nil
}

// Sources lists the stored status values event may start from, including
// the legacy synonym of draft, for use in conditional updates.
func Sources(event Event) []models.ProjectStatus {
	r, ok := transitions[event]
	if !ok {
		return nil
	}
	from := slices.Clone(r.from)
	if slices.Contains(from, models.StatusDraft) {
		from = append(from, models.StatusNew)
	}
	return from
}
