package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"consensus-chat/client/internal/models"
)

// renderer prints what changed between successive views
type renderer struct {
	mu      sync.Mutex
	w       io.Writer
	session string
	printed int
	phase   models.Phase
	notice  string
	chips   map[string]models.UploadStatus
	online  *bool
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w, phase: models.PhaseIdle, chips: make(map[string]models.UploadStatus)}
}

// Render prints new messages, phase transitions, attachment progress and
// notices. Switching sessions reprints the whole log.
func (r *renderer) Render(v models.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.SessionID != r.session || len(v.Messages) < r.printed {
		r.session = v.SessionID
		r.printed = 0
		if v.SessionID != "" {
			fmt.Fprintf(r.w, "--- session %s ---\n", v.SessionID)
		}
	}

	if r.online == nil || *r.online != v.Channel.Connected {
		online := v.Channel.Connected
		r.online = &online
		state := "offline, using HTTP fallback"
		if online {
			state = "online"
		}
		fmt.Fprintf(r.w, "[%s %s]\n", v.Channel.Transport, state)
	}

	for _, m := range v.Messages[r.printed:] {
		writeMessage(r.w, m)
	}
	r.printed = len(v.Messages)

	phase := models.PhaseIdle
	if v.Banner != nil {
		phase = v.Banner.Phase
	}
	if phase != r.phase {
		r.phase = phase
		if v.Banner != nil {
			fmt.Fprintf(r.w, "  ... %s\n", v.Banner.Message)
		}
	}

	seen := make(map[string]bool, len(v.Attachments))
	for _, chip := range v.Attachments {
		seen[chip.ID] = true
		if r.chips[chip.ID] == chip.Status {
			continue
		}
		r.chips[chip.ID] = chip.Status
		writeChip(r.w, chip)
	}
	for id := range r.chips {
		if !seen[id] {
			delete(r.chips, id)
		}
	}

	if v.Notice != r.notice {
		r.notice = v.Notice
		if v.Notice != "" {
			fmt.Fprintf(r.w, "! %s\n", v.Notice)
		}
	}
}

func writeMessage(w io.Writer, m models.Message) {
	fmt.Fprintf(w, "%s> %s\n", m.Role, m.Content)
	if m.Consensus == nil {
		return
	}
	fmt.Fprintf(w, "  consensus confidence %.0f%%\n", m.Consensus.ConfidenceScore*100)
	for _, resp := range m.Consensus.ModelResponses {
		fmt.Fprintf(w, "  - %s: %s\n", resp.Model, firstLine(resp.Content))
	}
}

func writeChip(w io.Writer, chip models.AttachmentChip) {
	switch chip.Status {
	case models.UploadError:
		fmt.Fprintf(w, "  [%s] %s failed: %s\n", shortID(chip.ID), chip.Name, chip.Error)
	case models.UploadSuccess:
		fmt.Fprintf(w, "  [%s] %s ready\n", shortID(chip.ID), chip.Name)
	default:
		fmt.Fprintf(w, "  [%s] %s %s\n", shortID(chip.ID), chip.Name, chip.Status)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
