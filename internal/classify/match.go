package classify

import (
	"strings"

	"github.com/nhle/mailsort/internal/taxonomy"
)

// TagMatcher decides whether any tag of a set occurs in message text.
// Tags and text are already normalized.
type TagMatcher interface {
	Match(tags taxonomy.TagSet, texts ...string) bool
}

// SubstringMatcher matches a tag that is a substring of any text.
type SubstringMatcher struct{}

// Match implements TagMatcher.
func (SubstringMatcher) Match(tags taxonomy.TagSet, texts ...string) bool {
	for _, tag := range tags {
		for _, text := range texts {
			if text != "" && strings.Contains(text, tag) {
				return true
			}
		}
	}
	return false
}
