package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUploadStatus_Settled(t *testing.T) {
	tests := []struct {
		status  UploadStatus
		settled bool
	}{
		{UploadPending, false},
		{UploadUploading, false},
		{UploadSuccess, true},
		{UploadError, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.settled, tt.status.Settled())
		})
	}
}
