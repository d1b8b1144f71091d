package models

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
)

// UploadStatus is the lifecycle state of a staged attachment
type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadUploading UploadStatus = "uploading"
	UploadSuccess   UploadStatus = "success"
	UploadError     UploadStatus = "error"
)

// Settled reports whether the upload has finished, successfully or not
func (s UploadStatus) Settled() bool {
	return s == UploadSuccess || s == UploadError
}

// FileSource is the raw file behind an attachment
type FileSource interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// AttachmentRecord tracks one file staged for the next outgoing message
type AttachmentRecord struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Status          UploadStatus `json:"status"`
	PersistedFileID string       `json:"persisted_file_id,omitempty"`
	Progress        float64      `json:"progress"`
	Error           string       `json:"error,omitempty"`
	Source          FileSource   `json:"-"`
}

type localFile struct {
	path string
}

// LocalFile returns a FileSource reading from disk
func LocalFile(path string) FileSource {
	return localFile{path: path}
}

func (f localFile) Name() string { return filepath.Base(f.path) }

func (f localFile) Open() (io.ReadCloser, error) { return os.Open(f.path) }

type memoryFile struct {
	name string
	data []byte
}

// MemoryFile returns a FileSource backed by an in-memory buffer
func MemoryFile(name string, data []byte) FileSource {
	return memoryFile{name: name, data: data}
}

func (f memoryFile) Name() string { return f.name }

func (f memoryFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}
