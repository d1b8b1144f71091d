package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"consensus-chat/client/internal/models"
	"consensus-chat/client/internal/service"
	"consensus-chat/client/pkg/logger"
	"consensus-chat/client/pkg/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_PrintsOnlyChanges(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)
	channel := models.ChannelState{Connected: true, Transport: "websocket"}

	r.Render(models.View{Channel: channel})
	r.Render(models.View{
		Channel:  channel,
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
		Banner:   &models.StatusBanner{Phase: models.PhaseAnalyzing, Message: "Analyzing your question..."},
	})
	r.Render(models.View{
		SessionID: "7",
		Channel:   channel,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "hello"},
			{Role: models.RoleAssistant, Content: "hi", Consensus: &ws.ConsensusPayload{
				ConfidenceScore: 0.5,
				ModelResponses:  []ws.ModelResponse{{Model: "a", Content: "hi\nthere"}},
			}},
		},
	})

	assert.Equal(t, strings.Join([]string{
		"[websocket online]",
		"user> hello",
		"  ... Analyzing your question...",
		"--- session 7 ---",
		"user> hello",
		"assistant> hi",
		"  consensus confidence 50%",
		"  - a: hi ...",
		"",
	}, "\n"), buf.String())
}

func TestRenderer_AttachmentsAndNotice(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)
	channel := models.ChannelState{Transport: "fallback"}

	chip := models.AttachmentChip{ID: "0123456789", Name: "a.txt", Status: models.UploadUploading}
	r.Render(models.View{Channel: channel, Attachments: []models.AttachmentChip{chip}})
	chip.Progress = 0.5
	r.Render(models.View{Channel: channel, Attachments: []models.AttachmentChip{chip}})
	chip.Status = models.UploadError
	chip.Error = "rejected"
	r.Render(models.View{Channel: channel, Attachments: []models.AttachmentChip{chip}, Notice: "try again"})

	assert.Equal(t, strings.Join([]string{
		"[fallback offline, using HTTP fallback]",
		"  [01234567] a.txt uploading",
		"  [01234567] a.txt failed: rejected",
		"! try again",
		"",
	}, "\n"), buf.String())
}

func TestChatREPL_Commands(t *testing.T) {
	var out bytes.Buffer
	conv := service.NewConversation(service.ConversationOptions{Logger: logger.Discard()})
	repl := &chatREPL{conv: conv, out: &out}
	ctx := context.Background()

	assert.False(t, repl.handle(ctx, "/consensus on"))
	assert.True(t, repl.consensus)
	assert.False(t, repl.handle(ctx, "/models gpt-4o, claude ,"))
	assert.Equal(t, []string{"gpt-4o", "claude"}, repl.models)
	assert.False(t, repl.handle(ctx, "/bogus"))
	assert.Contains(t, out.String(), "unknown command /bogus")
	assert.False(t, repl.handle(ctx, "/remove nothing"))
	assert.Contains(t, out.String(), `no staged attachment "nothing"`)
	assert.True(t, repl.handle(ctx, "/quit"))
}

func TestChatREPL_SubmitWithoutTransportSetsNotice(t *testing.T) {
	conv := service.NewConversation(service.ConversationOptions{Logger: logger.Discard()})
	repl := &chatREPL{conv: conv, out: &bytes.Buffer{}}

	assert.False(t, repl.handle(context.Background(), "hello there"))

	view := conv.View()
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "hello there", view.Messages[0].Content)
	assert.NotEmpty(t, view.Notice)
}

func TestChatREPL_SwitchAndNew(t *testing.T) {
	conv := service.NewConversation(service.ConversationOptions{Logger: logger.Discard()})
	repl := &chatREPL{conv: conv, out: &bytes.Buffer{}}

	repl.handle(context.Background(), "/switch 12")
	assert.Equal(t, "12", conv.ActiveSessionID())

	repl.handle(context.Background(), "/new")
	assert.Equal(t, "", conv.ActiveSessionID())
}

func TestWaitFor(t *testing.T) {
	assert.True(t, waitFor(context.Background(), time.Second, func() bool { return true }))
	assert.False(t, waitFor(context.Background(), 60*time.Millisecond, func() bool { return false }))
}
