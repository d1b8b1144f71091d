package models

// View is the render model handed to the presentation layer
type View struct {
	SessionID   string           `json:"session_id"`
	Messages    []Message        `json:"messages"`
	Banner      *StatusBanner    `json:"banner,omitempty"`
	Attachments []AttachmentChip `json:"attachments"`
	Notice      string           `json:"notice,omitempty"`
	Channel     ChannelState     `json:"channel"`
}

// StatusBanner is shown while a consensus answer is in flight
type StatusBanner struct {
	Phase   Phase  `json:"phase"`
	Message string `json:"message"`
	Epoch   uint64 `json:"epoch"`
}

// AttachmentChip is a staged attachment as shown next to the input box
type AttachmentChip struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Status   UploadStatus `json:"status"`
	Progress float64      `json:"progress"`
	Error    string       `json:"error,omitempty"`
}
