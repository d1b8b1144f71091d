package service

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"consensus-chat/client/internal/models"
	apperrors "consensus-chat/client/pkg/errors"
	"consensus-chat/client/pkg/logger"
	"consensus-chat/client/pkg/observability"
	"consensus-chat/client/pkg/ws"

	"github.com/google/uuid"
)

// maxAbandonedDrafts bounds the drafts NewSession keeps for late adoption
const maxAbandonedDrafts = 8

// Origins recorded for appended messages
const (
	OriginLocal    = "local"
	OriginPush     = "push"
	OriginFallback = "fallback"
	OriginHistory  = "history"
)

// ConversationOptions are the collaborators of a Conversation. Nil
// components are replaced with defaults; a nil Arbitrator sends nowhere.
type ConversationOptions struct {
	Staging       *AttachmentStagingArea
	Tracker       *ConsensusStatusTracker
	Reconciler    *MessageReconciler
	Arbitrator    *ChannelArbitrator
	History       HistoryLoader
	Clock         Clock
	DefaultModels []string
	Logger        *logger.Logger
	Metrics       *observability.Instruments
}

// SubmitInput is one user submission
type SubmitInput struct {
	Content        string
	UseConsensus   bool
	SelectedModels []string
}

// Conversation is the current-conversation context. It owns the session
// logs, the staging area and the consensus tracker, and is the only thing
// the presentation layer talks to.
type Conversation struct {
	mu       sync.Mutex
	sessions map[string]*SessionLog
	active   string
	// epochLog is the log the current consensus epoch was started in. It
	// follows the log through draft adoption.
	epochLog *SessionLog
	notice   string

	// drafts left by NewSession before the server assigned them a session,
	// keyed by their latest client message id
	abandoned      map[string]*SessionLog
	abandonedOrder []string

	staging       *AttachmentStagingArea
	tracker       *ConsensusStatusTracker
	reconciler    *MessageReconciler
	arbitrator    *ChannelArbitrator
	history       HistoryLoader
	clock         Clock
	defaultModels []string

	subMu   sync.Mutex
	subs    map[int]func(models.View)
	nextSub int

	log     *logger.Logger
	metrics *observability.Instruments
}

// NewConversation creates a conversation whose active session is a fresh draft
func NewConversation(opts ConversationOptions) *Conversation {
	log := logger.OrGlobal(opts.Logger)
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Staging == nil {
		opts.Staging = NewAttachmentStagingArea(nil, log, opts.Metrics)
	}
	if opts.Tracker == nil {
		opts.Tracker = NewConsensusStatusTracker(nil, log, opts.Metrics)
	}
	if opts.Reconciler == nil {
		opts.Reconciler = NewMessageReconciler(nil, log, opts.Metrics)
	}
	if opts.Arbitrator == nil {
		opts.Arbitrator = NewChannelArbitrator(nil, nil, log, opts.Metrics)
	}

	c := &Conversation{
		sessions:      map[string]*SessionLog{"": NewSessionLog("")},
		abandoned:     make(map[string]*SessionLog),
		staging:       opts.Staging,
		tracker:       opts.Tracker,
		reconciler:    opts.Reconciler,
		arbitrator:    opts.Arbitrator,
		history:       opts.History,
		clock:         opts.Clock,
		defaultModels: opts.DefaultModels,
		subs:          make(map[int]func(models.View)),
		log:           log.WithComponent("conversation"),
		metrics:       opts.Metrics,
	}
	c.staging.OnChange(c.publish)
	c.tracker.OnChange(func(models.ConsensusStatus) { c.publish() })
	return c
}

// Staging returns the attachment staging area of the conversation
func (c *Conversation) Staging() *AttachmentStagingArea {
	return c.staging
}

// Tracker returns the consensus status tracker of the conversation
func (c *Conversation) Tracker() *ConsensusStatusTracker {
	return c.tracker
}

// ActiveSessionID returns the active session id; empty means draft
func (c *Conversation) ActiveSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Attach stages a file for the next submission
func (c *Conversation) Attach(ctx context.Context, file models.FileSource) models.AttachmentRecord {
	return c.staging.Attach(ctx, file)
}

// RemoveAttachment unstages a file
func (c *Conversation) RemoveAttachment(id string) bool {
	return c.staging.Remove(id)
}

// Submit echoes the user's message locally and sends it over one channel.
// The staging area is cleared only when a channel accepted the message.
// A transport failure leaves the log intact and sets the view notice.
func (c *Conversation) Submit(ctx context.Context, in SubmitInput) (SendResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return SendResult{}, apperrors.NewBadRequestError(apperrors.CodeEmptyMessage, "message content is empty")
	}

	fileIDs := c.staging.SnapshotIDs()

	c.mu.Lock()
	sessionID := c.active
	sessionLog := c.sessionLocked(sessionID)
	local := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   content,
		Timestamp: c.clock.Now(),
		SessionID: sessionID,
	}
	c.reconciler.AppendLocal(ctx, sessionLog, local)
	c.mu.Unlock()
	c.publish()

	req := ws.ChatRequest{
		Message:         content,
		UseConsensus:    in.UseConsensus,
		AttachedFileIDs: fileIDs,
		ClientMessageID: local.ID,
	}
	if sessionID != "" {
		ref := ws.SessionRef(sessionID)
		req.SessionID = &ref
	}
	if in.UseConsensus {
		req.SelectedModels = in.SelectedModels
		if len(req.SelectedModels) == 0 {
			req.SelectedModels = c.defaultModels
		}
		c.mu.Lock()
		c.epochLog = sessionLog
		c.mu.Unlock()
		req.Epoch = c.tracker.Begin()
	}
	if req.SelectedModels == nil {
		req.SelectedModels = []string{}
	}

	log := c.log.WithSessionID(sessionID)
	result, err := c.arbitrator.Send(ctx, req)
	if err != nil {
		log.LogError(err, "Message submission failed", "client_message_id", local.ID)
		if req.Epoch != 0 {
			c.tracker.Complete(req.Epoch)
		}
		c.setNotice(noticeFor(err))
		return result, err
	}

	c.staging.Clear()
	c.setNotice("")
	log.Info("Message submitted",
		"transport", result.Transport,
		"client_message_id", local.ID,
		"attachments", len(fileIDs),
		"epoch", req.Epoch,
	)

	if result.Response != nil {
		c.applyFallback(ctx, sessionID, local.ID, result.Response, req.Epoch)
	}
	return result, nil
}

// applyFallback merges the fallback reply to clientMessageID, issued from
// originSession
func (c *Conversation) applyFallback(ctx context.Context, originSession, clientMessageID string, resp *ws.FallbackResponse, epoch uint64) {
	msg := models.MessageFromFallback(resp.Message, c.clock.Now())

	if originSession == "" {
		newID := msg.SessionID
		if resp.Session != nil && resp.Session.ID != "" {
			newID = resp.Session.ID.String()
		}
		if newID != "" {
			c.adoptDraft(newID, clientMessageID)
		}
	}

	if msg.SessionID == "" {
		if resp.Session != nil && resp.Session.ID != "" {
			msg.SessionID = resp.Session.ID.String()
		} else {
			msg.SessionID = originSession
		}
	}

	c.mergeInbound(ctx, []models.Message{msg}, OriginFallback)
	if epoch != 0 && msg.Role == models.RoleAssistant {
		c.tracker.Complete(epoch)
	}
}

// HandleEnvelope applies one push envelope
func (c *Conversation) HandleEnvelope(ctx context.Context, env ws.Envelope) error {
	switch env.Type {
	case ws.TypeMessage:
		var ev ws.InboundEvent
		if err := env.Decode(&ev); err != nil {
			return invalidEvent(env.Type, err)
		}
		msg := models.MessageFromEvent(ev, c.clock.Now())
		appended := c.mergeInbound(ctx, []models.Message{msg}, OriginPush)
		// a reply dropped as a duplicate does not end a newer epoch, one
		// dropped because its session is no longer active still does
		if msg.Role == models.RoleAssistant && (len(appended) > 0 || msg.SessionID != c.ActiveSessionID()) {
			c.completeFor(msg.SessionID)
		}
		return nil

	case ws.TypeStatus:
		var sig ws.StatusSignal
		if err := env.Decode(&sig); err != nil {
			return invalidEvent(env.Type, err)
		}
		c.tracker.ApplySignal(sig)
		return nil

	case ws.TypeSessionCreated:
		var created ws.SessionCreated
		if err := env.Decode(&created); err != nil {
			return invalidEvent(env.Type, err)
		}
		if created.ID == "" {
			return invalidEvent(env.Type, nil)
		}
		if c.adoptDraft(created.ID.String(), created.ClientMessageID) {
			c.publish()
		}
		return nil

	case ws.TypeError:
		var ev ws.ErrorEvent
		if err := env.Decode(&ev); err != nil {
			return invalidEvent(env.Type, err)
		}
		c.log.Warn("Push channel reported an error", "code", ev.Code, "message", ev.Message)
		c.tracker.Complete(0)
		c.setNotice(ev.Message)
		return nil

	case ws.TypePing, ws.TypePong:
		return nil

	default:
		return apperrors.NewBadRequestError(apperrors.CodeInvalidEvent, "unknown event type: "+env.Type)
	}
}

// Run consumes push envelopes in arrival order until ctx is done or events
// is closed. Invalid envelopes are logged and skipped.
func (c *Conversation) Run(ctx context.Context, events <-chan ws.Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.HandleEnvelope(ctx, env); err != nil {
				c.log.Warn("Push event skipped", "type", env.Type, "error", err.Error())
			}
		}
	}
}

// SwitchSession makes sessionID active and loads its stored history. In
// flight work for the previous session is not cancelled; its late results
// are dropped by the reconciler.
func (c *Conversation) SwitchSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	previous := c.active
	c.active = sessionID
	c.sessionLocked(sessionID)
	c.mu.Unlock()

	c.log.Debug("Active session switched", "from", previous, "to", sessionID)
	c.publish()

	if sessionID == "" || c.history == nil {
		return nil
	}

	events, err := c.history.History(ctx, sessionID)
	if err != nil {
		c.log.WithSessionID(sessionID).LogError(err, "Failed to load session history")
		c.setNotice(noticeFor(err))
		return err
	}

	now := c.clock.Now()
	batch := make([]models.Message, 0, len(events))
	for _, ev := range events {
		msg := models.MessageFromEvent(ev, now)
		if msg.SessionID == "" {
			msg.SessionID = sessionID
		}
		batch = append(batch, msg)
	}
	c.mergeInbound(ctx, batch, OriginHistory)
	return nil
}

// NewSession starts a fresh draft session and makes it active. A draft that
// already holds messages is kept aside until the server names its session.
func (c *Conversation) NewSession() {
	c.mu.Lock()
	if draft := c.sessions[""]; draft.Len() > 0 {
		c.abandonDraftLocked(draft)
	}
	c.sessions[""] = NewSessionLog("")
	c.active = ""
	c.mu.Unlock()
	c.publish()
}

// ChannelChanged is the push transport's state handler
func (c *Conversation) ChannelChanged(connected bool) {
	c.log.Info("Push channel connectivity changed", "connected", connected)
	c.publish()
}

// View projects the current state
func (c *Conversation) View() models.View {
	c.mu.Lock()
	active := c.active
	var messages []models.Message
	if sessionLog, ok := c.sessions[active]; ok {
		messages = sessionLog.Messages()
	}
	notice := c.notice
	ownsEpoch := c.epochLog != nil && c.epochLog == c.sessions[active]
	c.mu.Unlock()

	status := c.tracker.Status()
	if !ownsEpoch {
		status = models.ConsensusStatus{Phase: models.PhaseIdle, Epoch: status.Epoch}
	}

	return Project(ProjectionInput{
		ActiveSessionID: active,
		Messages:        messages,
		Status:          status,
		Attachments:     c.staging.Records(),
		Notice:          notice,
		Channel:         c.arbitrator.ChannelState(),
	})
}

// Subscribe registers fn to receive a fresh view after every change and
// returns a func that unregisters it. fn may be called from any goroutine.
func (c *Conversation) Subscribe(fn func(models.View)) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Conversation) publish() {
	c.subMu.Lock()
	if len(c.subs) == 0 {
		c.subMu.Unlock()
		return
	}
	subs := make([]func(models.View), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()

	view := c.View()
	for _, fn := range subs {
		fn(view)
	}
}

// mergeInbound reconciles batch against the session active right now
func (c *Conversation) mergeInbound(ctx context.Context, batch []models.Message, origin string) []models.Message {
	c.mu.Lock()
	active := c.active
	appended := c.reconciler.Merge(ctx, c.sessions[active], batch, active, origin)
	c.mu.Unlock()

	if len(appended) > 0 {
		c.publish()
	}
	return appended
}

// adoptDraft re-keys the draft log holding clientMessageID to the
// server-assigned sessionID. The current draft becomes the active session;
// an abandoned one is stored without changing the active session. An empty
// clientMessageID matches the current draft only.
func (c *Conversation) adoptDraft(sessionID, clientMessageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.sessions[sessionID]; exists {
		return false
	}
	draft, current := c.findDraftLocked(clientMessageID)
	if draft == nil {
		return false
	}

	draft.rekey(sessionID)
	c.sessions[sessionID] = draft
	if current {
		c.sessions[""] = NewSessionLog("")
		if c.active == "" {
			c.active = sessionID
		}
	}
	c.log.Info("Draft session adopted", "session_id", sessionID, "current", current)
	return true
}

// findDraftLocked returns the draft holding clientMessageID and whether it
// is the current draft. An abandoned draft it returns is no longer tracked.
func (c *Conversation) findDraftLocked(clientMessageID string) (*SessionLog, bool) {
	if draft := c.sessions[""]; draft.Len() > 0 && (clientMessageID == "" || draft.HasID(clientMessageID)) {
		return draft, true
	}
	if clientMessageID == "" {
		return nil, false
	}
	for i, key := range c.abandonedOrder {
		draft := c.abandoned[key]
		if draft.HasID(clientMessageID) {
			delete(c.abandoned, key)
			c.abandonedOrder = append(c.abandonedOrder[:i:i], c.abandonedOrder[i+1:]...)
			return draft, false
		}
	}
	return nil, false
}

func (c *Conversation) abandonDraftLocked(draft *SessionLog) {
	msgs := draft.Messages()
	key := ""
	for i := len(msgs) - 1; i >= 0 && key == ""; i-- {
		key = msgs[i].ID
	}
	if key == "" {
		return
	}
	if len(c.abandonedOrder) == maxAbandonedDrafts {
		delete(c.abandoned, c.abandonedOrder[0])
		c.abandonedOrder = c.abandonedOrder[1:]
	}
	c.abandoned[key] = draft
	c.abandonedOrder = append(c.abandonedOrder, key)
	c.log.Debug("Draft set aside", "client_message_id", key, "messages", len(msgs))
}

func (c *Conversation) ownsEpoch(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sessionLog, ok := c.sessions[sessionID]
	return ok && sessionLog == c.epochLog
}

// completeFor ends the current epoch when it was started in the log of
// sessionID. Push events carry no epoch, so a late non-duplicate reply to a
// superseded epoch of the same session ends the newer epoch as well.
func (c *Conversation) completeFor(sessionID string) {
	if c.ownsEpoch(sessionID) {
		c.tracker.Complete(0)
	}
}

func (c *Conversation) setNotice(notice string) {
	c.mu.Lock()
	changed := c.notice != notice
	c.notice = notice
	c.mu.Unlock()
	if changed {
		c.publish()
	}
}

// sessionLocked returns the log of sessionID, creating it when missing
func (c *Conversation) sessionLocked(sessionID string) *SessionLog {
	sessionLog, ok := c.sessions[sessionID]
	if !ok {
		sessionLog = NewSessionLog(sessionID)
		c.sessions[sessionID] = sessionLog
	}
	return sessionLog
}

func invalidEvent(eventType string, err error) error {
	if err == nil {
		return apperrors.NewBadRequestError(apperrors.CodeInvalidEvent, "invalid "+eventType+" event")
	}
	return apperrors.Wrap(err, http.StatusBadRequest, apperrors.CodeInvalidEvent, "invalid "+eventType+" event")
}

func noticeFor(err error) string {
	msg := apperrors.GetErrorMessage(err)
	if msg == "" {
		msg = err.Error()
	}
	return "Message could not be delivered: " + msg + ". Please try again."
}
