// Package eml reads saved RFC 5322 messages into the same text a detector
// composes from an open message.
package eml

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/ajramos/mailguard/internal/render"
)

// Attachment describes an attached part
type Attachment struct {
	Filename string
	MIMEType string
	Size     int64
}

// Message is the readable content of a saved message
type Message struct {
	Sender      string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Parse reads a message from r. Messages without a text part get their text
// from the HTML part.
func Parse(r io.Reader) (*Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	defer mr.Close()

	msg := &Message{}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].Address
	} else if raw := mr.Header.Get("From"); raw != "" {
		msg.Sender = strings.TrimSpace(raw)
	}
	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = strings.TrimSpace(subject)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read message part: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s part: %w", contentType, err)
			}
			switch {
			case strings.HasPrefix(contentType, "text/html") && msg.HTML == "":
				msg.HTML = string(body)
			case (contentType == "" || strings.HasPrefix(contentType, "text/plain")) && msg.Text == "":
				msg.Text = string(body)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			n, err := io.Copy(io.Discard, part.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read attachment %s: %w", filename, err)
			}
			msg.Attachments = append(msg.Attachments, Attachment{Filename: filename, MIMEType: contentType, Size: n})
		}
	}

	if strings.TrimSpace(msg.Text) == "" && msg.HTML != "" {
		text, _, err := render.HTMLToText(msg.HTML)
		if err != nil {
			return nil, err
		}
		msg.Text = text
	}
	return msg, nil
}

// ParseBytes is Parse over raw
func ParseBytes(raw []byte) (*Message, error) {
	return Parse(bytes.NewReader(raw))
}

// ParseFile reads the message saved at path
func ParseFile(path string) (*Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open message: %w", err)
	}
	defer f.Close()
	return Parse(f)
}
