package imapstore

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"

	"github.com/nhle/mailsort/internal/mailstore"
)

// parseMessage parses a raw RFC 5322 message into its MIME tree. Leaf
// bodies are transfer- and charset-decoded.
func parseMessage(raw []byte) (mailstore.Part, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return mailstore.Part{}, fmt.Errorf("parsing message: %w", err)
	}

	var extract func(*message.Entity) (mailstore.Part, error)
	extract = func(e *message.Entity) (mailstore.Part, error) {
		mediaType, _, _ := e.Header.ContentType()
		if mediaType == "" {
			mediaType = "text/plain"
		}
		part := mailstore.Part{ContentType: mediaType}

		if mr := e.MultipartReader(); mr != nil {
			for {
				child, err := mr.NextPart()
				if err == io.EOF {
					break
				}
				if err != nil && !message.IsUnknownCharset(err) {
					return part, fmt.Errorf("reading %s part: %w", mediaType, err)
				}
				sub, err := extract(child)
				if err != nil {
					return part, err
				}
				part.Parts = append(part.Parts, sub)
			}
			return part, nil
		}

		// Attachments and other binary leaves carry no text worth matching.
		if !strings.HasPrefix(mediaType, "text/") {
			return part, nil
		}
		body, err := io.ReadAll(e.Body)
		if err != nil {
			return part, fmt.Errorf("reading %s body: %w", mediaType, err)
		}
		part.Body = string(body)
		return part, nil
	}

	return extract(entity)
}
