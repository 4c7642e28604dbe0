package lifecycle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"homeproject-backend/internal/errs"
	"homeproject-backend/internal/lifecycle"
	"homeproject-backend/internal/models"
)

func TestTransition_Legal(t *testing.T) {
	tests := []struct {
		from  models.ProjectStatus
		event lifecycle.Event
		want  models.ProjectStatus
	}{
		{models.StatusDraft, lifecycle.EventAttachImage, models.StatusDraft},
		{models.StatusNew, lifecycle.EventAttachImage, models.StatusDraft},
		{models.StatusDraft, lifecycle.EventRequestPreview, models.StatusPreviewRequested},
		{models.StatusNew, lifecycle.EventRequestPreview, models.StatusPreviewRequested},
		{models.StatusPreviewRequested, lifecycle.EventPreviewSucceeded, models.StatusPreviewReady},
		{models.StatusPreviewRequested, lifecycle.EventPreviewFailed, models.StatusPreviewError},
		{models.StatusPreviewError, lifecycle.EventRequestPlan, models.StatusPlanRequested},
		{models.StatusPreviewReady, lifecycle.EventRequestPlan, models.StatusPlanRequested},
		{models.StatusPlanRequested, lifecycle.EventPlanSucceeded, models.StatusPlanReady},
		{models.StatusPlanRequested, lifecycle.EventPlanFailed, models.StatusPlanError},
		{models.StatusPlanReady, lifecycle.EventRequestPreview, models.StatusPreviewRequested},
		{models.StatusPreviewRequested, lifecycle.EventSkipPreview, models.StatusReady},
		{models.StatusDraft, lifecycle.EventSkipPreview, models.StatusReady},
		{models.StatusReady, lifecycle.EventStartBuild, models.StatusInProgress},
		{models.StatusPlanReady, lifecycle.EventStartBuild, models.StatusInProgress},
		{models.StatusInProgress, lifecycle.EventAttachImage, models.StatusInProgress},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			got, err := lifecycle.Transition(tt.from, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransition_Illegal(t *testing.T) {
	tests := []struct {
		from  models.ProjectStatus
		event lifecycle.Event
	}{
		{models.StatusPreviewRequested, lifecycle.EventRequestPreview},
		{models.StatusPreviewRequested, lifecycle.EventAttachImage},
		{models.StatusPlanRequested, lifecycle.EventAttachImage},
		{models.StatusPlanRequested, lifecycle.EventRequestPreview},
		{models.StatusDraft, lifecycle.EventPreviewSucceeded},
		{models.StatusDraft, lifecycle.EventStartBuild},
		{models.StatusInProgress, lifecycle.EventRequestPlan},
		{models.StatusPlanReady, lifecycle.EventSkipPreview},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			_, err := lifecycle.Transition(tt.from, tt.event)
			assert.ErrorIs(t, err, errs.ErrConflict)
		})
	}
}

func TestTransition_UnknownEvent(t *testing.T) {
	_, err := lifecycle.Transition(models.StatusDraft, lifecycle.Event("teleport"))
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestSources_IncludeLegacyDraft(t *testing.T) {
	assert.Contains(t, lifecycle.Sources(lifecycle.EventRequestPreview), models.StatusNew)
	assert.NotContains(t, lifecycle.Sources(lifecycle.EventPreviewSucceeded), models.StatusNew)
	assert.Nil(t, lifecycle.Sources(lifecycle.Event("teleport")))
}
