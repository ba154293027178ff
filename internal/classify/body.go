package classify

import (
	"strings"

	"github.com/k3a/html2text"

	"github.com/nhle/mailsort/internal/mailstore"
)

// firstPart returns the body of the first leaf of the given media type,
// searching the MIME tree depth first in document order.
func firstPart(parts []mailstore.Part, mediaType string) (string, bool) {
	stack := make([]mailstore.Part, 0, len(parts))
	for i := len(parts) - 1; i >= 0; i-- {
		stack = append(stack, parts[i])
	}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if len(p.Parts) > 0 {
			for i := len(p.Parts) - 1; i >= 0; i-- {
				stack = append(stack, p.Parts[i])
			}
			continue
		}
		if strings.EqualFold(p.ContentType, mediaType) && p.Body != "" {
			return p.Body, true
		}
	}
	return "", false
}

// BodyText extracts the text matched against tags: the first text/plain
// part, or with htmlFallback the first text/html part rendered as text.
func BodyText(parts []mailstore.Part, htmlFallback bool) string {
	if body, ok := firstPart(parts, "text/plain"); ok {
		return body
	}
	if htmlFallback {
		if html, ok := firstPart(parts, "text/html"); ok {
			return html2text.HTML2Text(html)
		}
	}
	return ""
}
