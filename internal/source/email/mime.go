package email

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailcache/internal/source"
)

// extractAttachment parses a raw RFC 5322 message with go-message and
// returns its index-th attachment part, counting from zero.
func extractAttachment(raw []byte, index int) (*source.Attachment, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &source.LocalError{Message: fmt.Sprintf("parsing message: %v", err)}
	}
	defer mr.Close()

	seen := 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &source.LocalError{Message: fmt.Sprintf("reading message part: %v", err)}
		}

		h, ok := part.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		if seen != index {
			seen++
			continue
		}

		filename, _ := h.Filename()
		contentType, _, _ := h.ContentType()
		data, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, &source.LocalError{Message: fmt.Sprintf("reading attachment %q: %v", filename, err)}
		}

		return &source.Attachment{
			Filename: filename,
			MIMEType: strings.ToLower(contentType),
			Data:     data,
		}, nil
	}

	return nil, &source.LocalError{
		Message: fmt.Sprintf("attachment %d not found (message has %d)", index, seen),
	}
}
