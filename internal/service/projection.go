package service

import (
	"consensus-chat/client/internal/models"
)

// ProjectionInput is everything the view is derived from
type ProjectionInput struct {
	ActiveSessionID string
	Messages        []models.Message
	Status          models.ConsensusStatus
	Attachments     []models.AttachmentRecord
	Notice          string
	Channel         models.ChannelState
}

// Project derives the render model from in. It holds no state, so the view
// can be recomputed from scratch after every change.
func Project(in ProjectionInput) models.View {
	view := models.View{
		SessionID:   in.ActiveSessionID,
		Messages:    make([]models.Message, 0, len(in.Messages)),
		Attachments: make([]models.AttachmentChip, 0, len(in.Attachments)),
		Notice:      in.Notice,
		Channel:     in.Channel,
	}

	for _, msg := range in.Messages {
		if msg.SessionID != in.ActiveSessionID {
			continue
		}
		view.Messages = append(view.Messages, msg)
	}

	if in.Status.Active() {
		view.Banner = &models.StatusBanner{
			Phase:   in.Status.Phase,
			Message: in.Status.Message,
			Epoch:   in.Status.Epoch,
		}
	}

	for _, rec := range in.Attachments {
		view.Attachments = append(view.Attachments, models.AttachmentChip{
			ID:       rec.ID,
			Name:     rec.Name,
			Status:   rec.Status,
			Progress: rec.Progress,
			Error:    rec.Error,
		})
	}

	return view
}
