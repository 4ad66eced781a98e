package email

import "context"

// Attachment is a file carried alongside the HTML body.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is a single HTML email with optional attachments.
type Message struct {
	To          []string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// Sender delivers a message or returns why it could not.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}
