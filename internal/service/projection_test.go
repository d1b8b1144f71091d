package service

import (
	"testing"

	"consensus-chat/client/internal/models"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestProject(t *testing.T) {
	in := ProjectionInput{
		ActiveSessionID: "2",
		Messages: []models.Message{
			msg("a", "user", "question", "2"),
			msg("b", "assistant", "Result", "1"),
			msg("c", "assistant", "answer", "2"),
		},
		Status: models.ConsensusStatus{Phase: models.PhaseProcessing, Message: "drafting", Epoch: 3},
		Attachments: []models.AttachmentRecord{
			{ID: "x", Name: "x.txt", Status: models.UploadSuccess, Progress: 1, PersistedFileID: "f-x"},
			{ID: "y", Name: "y.txt", Status: models.UploadError, Error: "too large"},
		},
		Notice:  "retry",
		Channel: models.ChannelState{Connected: true, Transport: "websocket"},
	}

	want := models.View{
		SessionID: "2",
		Messages: []models.Message{
			msg("a", "user", "question", "2"),
			msg("c", "assistant", "answer", "2"),
		},
		Banner: &models.StatusBanner{Phase: models.PhaseProcessing, Message: "drafting", Epoch: 3},
		Attachments: []models.AttachmentChip{
			{ID: "x", Name: "x.txt", Status: models.UploadSuccess, Progress: 1},
			{ID: "y", Name: "y.txt", Status: models.UploadError, Error: "too large"},
		},
		Notice:  "retry",
		Channel: models.ChannelState{Connected: true, Transport: "websocket"},
	}

	if diff := cmp.Diff(want, Project(in)); diff != "" {
		t.Errorf("Project() mismatch (-want +got):\n%s", diff)
	}
}

func TestProject_IdleHasNoBanner(t *testing.T) {
	view := Project(ProjectionInput{Status: models.ConsensusStatus{Phase: models.PhaseIdle, Epoch: 4}})

	assert.Nil(t, view.Banner)
	assert.NotNil(t, view.Messages)
	assert.NotNil(t, view.Attachments)
}

func TestProject_IsPure(t *testing.T) {
	in := ProjectionInput{
		ActiveSessionID: "1",
		Messages:        []models.Message{msg("a", "user", "hi", "1")},
	}

	first := Project(in)
	first.Messages[0].Content = "changed"

	assert.Equal(t, "hi", in.Messages[0].Content)
	assert.Empty(t, cmp.Diff(Project(in), Project(in)))
}
