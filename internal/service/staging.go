package service

import (
	"context"
	"sync"

	"consensus-chat/client/internal/models"
	apperrors "consensus-chat/client/pkg/errors"
	"consensus-chat/client/pkg/logger"
	"consensus-chat/client/pkg/observability"

	"github.com/google/uuid"
)

var errNoUploader = apperrors.NewInternalServerError(apperrors.CodeUploadFailed, "no uploader configured")

type stagedEntry struct {
	record models.AttachmentRecord
	cancel context.CancelFunc
}

// AttachmentStagingArea holds the files attached to the next outgoing
// message. Each upload settles on its own record; a failed upload never
// blocks or invalidates the others.
type AttachmentStagingArea struct {
	mu       sync.Mutex
	entries  []*stagedEntry
	uploader Uploader
	wg       sync.WaitGroup
	onChange func()
	log      *logger.Logger
	metrics  *observability.Instruments
}

// NewAttachmentStagingArea creates an empty staging area uploading through uploader
func NewAttachmentStagingArea(uploader Uploader, log *logger.Logger, metrics *observability.Instruments) *AttachmentStagingArea {
	return &AttachmentStagingArea{
		uploader: uploader,
		log:      logger.OrGlobal(log).WithComponent("staging"),
		metrics:  metrics,
	}
}

// OnChange registers a callback invoked after every record change
func (s *AttachmentStagingArea) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Attach stages file and starts uploading it. The returned record is the
// pending snapshot; later states are visible through Records.
func (s *AttachmentStagingArea) Attach(ctx context.Context, file models.FileSource) models.AttachmentRecord {
	uploadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry := &stagedEntry{
		record: models.AttachmentRecord{
			ID:     uuid.New().String(),
			Name:   file.Name(),
			Status: models.UploadPending,
			Source: file,
		},
		cancel: cancel,
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	record := entry.record
	s.wg.Add(1)
	s.mu.Unlock()

	s.notify()
	go s.upload(uploadCtx, record.ID, file)
	return record
}

func (s *AttachmentStagingArea) upload(ctx context.Context, id string, file models.FileSource) {
	defer s.wg.Done()

	if !s.update(id, func(r *models.AttachmentRecord) { r.Status = models.UploadUploading }) {
		return
	}

	if s.uploader == nil {
		s.settle(ctx, id, "", errNoUploader)
		return
	}

	fileID, err := s.uploader.Upload(ctx, file, func(sent, total int64) {
		if total <= 0 {
			return
		}
		s.update(id, func(r *models.AttachmentRecord) {
			if r.Status == models.UploadUploading {
				r.Progress = float64(sent) / float64(total)
			}
		})
	})
	s.settle(ctx, id, fileID, err)
}

func (s *AttachmentStagingArea) settle(ctx context.Context, id, fileID string, err error) {
	if ctx.Err() != nil {
		// removed or cleared while uploading; the record is gone
		return
	}
	status := models.UploadSuccess
	if err != nil {
		status = models.UploadError
	}

	found := s.update(id, func(r *models.AttachmentRecord) {
		r.Status = status
		if err != nil {
			r.Error = err.Error()
			return
		}
		r.PersistedFileID = fileID
		r.Progress = 1
	})
	if !found {
		return
	}

	s.metrics.UploadSettled(ctx, string(status))
	if err != nil {
		s.log.Warn("Attachment upload failed", "attachment_id", id, "error", err.Error())
	} else {
		s.log.Debug("Attachment uploaded", "attachment_id", id, "file_id", fileID)
	}
}

// update applies fn to the record with id and reports whether it exists
func (s *AttachmentStagingArea) update(id string, fn func(*models.AttachmentRecord)) bool {
	s.mu.Lock()
	var found bool
	for _, e := range s.entries {
		if e.record.ID == id {
			fn(&e.record)
			found = true
			break
		}
	}
	s.mu.Unlock()

	if found {
		s.notify()
	}
	return found
}

// Remove unstages a record and cancels its upload
func (s *AttachmentStagingArea) Remove(id string) bool {
	s.mu.Lock()
	var removed *stagedEntry
	for i, e := range s.entries {
		if e.record.ID == id {
			removed = e
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if removed == nil {
		return false
	}
	removed.cancel()
	s.notify()
	return true
}

// SnapshotIDs returns the persisted file ids of successfully uploaded
// records in attach order. Pending, uploading and failed records are left out.
func (s *AttachmentStagingArea) SnapshotIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		if e.record.Status == models.UploadSuccess {
			ids = append(ids, e.record.PersistedFileID)
		}
	}
	return ids
}

// Records returns a copy of the staged records in attach order
func (s *AttachmentStagingArea) Records() []models.AttachmentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.AttachmentRecord, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.record
	}
	return out
}

// Clear unstages everything and cancels in-flight uploads
func (s *AttachmentStagingArea) Clear() {
	s.mu.Lock()
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
	if len(entries) > 0 {
		s.notify()
	}
}

// Wait blocks until every started upload has settled or been abandoned
func (s *AttachmentStagingArea) Wait() {
	s.wg.Wait()
}

func (s *AttachmentStagingArea) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
