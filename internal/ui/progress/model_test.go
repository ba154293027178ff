package progress

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartRunsTask(t *testing.T) {
	m := New(context.Background(), "Sorting", func(ctx context.Context) (int, error) {
		return 7, nil
	})

	msg := m.start()()
	assert.Equal(t, DoneMsg[int]{Value: 7}, msg)
}

func TestDoneQuitsWithResult(t *testing.T) {
	m := New(context.Background(), "Sorting", func(ctx context.Context) (int, error) { return 0, nil })
	assert.Contains(t, m.View(), "Sorting")

	wantErr := errors.New("boom")
	next, cmd := m.Update(DoneMsg[int]{Value: 3, Err: wantErr})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	got := next.(Model[int])
	v, err := got.Result()
	assert.Equal(t, 3, v)
	assert.ErrorIs(t, err, wantErr)
	assert.Empty(t, got.View())
}

func TestQuitKeyCancelsTask(t *testing.T) {
	m := New(context.Background(), "Sorting", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Nil(t, cmd)
	got := next.(Model[int])
	assert.Contains(t, got.View(), "cancelling")

	msg := got.start()()
	done, ok := msg.(DoneMsg[int])
	require.True(t, ok)
	assert.ErrorIs(t, done.Err, context.Canceled)
}

func TestOtherKeysIgnored(t *testing.T) {
	m := New(context.Background(), "Sorting", func(ctx context.Context) (int, error) { return 0, nil })

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.NoError(t, next.(Model[int]).ctx.Err())
}
