package services

import "time"

// FillCompletedMessage is the payload published on the completion topic after
// a filled document has been uploaded.
type FillCompletedMessage struct {
	EventID        string    `json:"eventId"`
	TemplateFileID string    `json:"templateFileId"`
	DriveFileID    string    `json:"driveFileId"`
	DriveFileName  string    `json:"driveFileName"`
	WebViewLink    string    `json:"webViewLink,omitempty"`
	FilledCount    int       `json:"filledCount"`
	Mode           string    `json:"mode"`
	RequestID      string    `json:"requestId,omitempty"`
	CompletedAt    time.Time `json:"completedAt"`
}
