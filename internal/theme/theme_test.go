package theme

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/mailsort/internal/drift"
)

func TestResultStyle(t *testing.T) {
	assert.Equal(t, ColorGreen, ResultStyle("ok").GetForeground())
	assert.Equal(t, ColorYellow, ResultStyle("skipped").GetForeground())
	assert.Equal(t, ColorRed, ResultStyle("error").GetForeground())
}

func TestDriftStyle(t *testing.T) {
	assert.Equal(t, ColorMagenta, DriftStyle(drift.ReasonTags).GetForeground())
	assert.Equal(t, ColorGray, DriftStyle(drift.Reason("other")).GetForeground())
}

func TestNewBadge(t *testing.T) {
	assert.Contains(t, NewBadge, "NEW")
}
