package ui

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer guards a buffer written by the spinner goroutine
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinner(t *testing.T) {
	var out syncBuffer
	s := NewSpinner(&out, "migrating", 5*time.Millisecond, true)
	s.Start()
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "migrating") }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
	assert.True(t, strings.HasSuffix(out.String(), "\r\033[K"))
}

func TestWithSpinner(t *testing.T) {
	var out syncBuffer
	err := WithSpinner(&out, "Applying schema changes", true, func() error { return nil })
	require.NoError(t, err)
	assert.Contains(t, out.String(), "✓ Applying schema changes")

	out = syncBuffer{}
	boom := errors.New("boom")
	err = WithSpinner(&out, "Resetting storage", true, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, out.String(), "❌ Resetting storage failed")
}

func TestProgressBar(t *testing.T) {
	var out bytes.Buffer
	bar := NewProgressBar(&out, "export", 4, 8, true)

	bar.Add(1)
	assert.Contains(t, out.String(), "[██░░░░░░]  25% export")

	bar.Add(10)
	assert.Equal(t, 4, bar.Current())
	assert.Contains(t, out.String(), "[████████] 100% export")
}

func TestProgressBarZeroTotal(t *testing.T) {
	var out bytes.Buffer
	bar := NewProgressBar(&out, "nothing", 0, 0, true)
	bar.Add(1)
	assert.Empty(t, out.String())
}

func TestWithProgress(t *testing.T) {
	var out bytes.Buffer
	err := WithProgress(&out, "Imported 3 records", 3, true, func(bar *ProgressBar) error {
		for i := 0; i < 3; i++ {
			bar.Add(1)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "100%")
	assert.Contains(t, out.String(), "✓ Imported 3 records")

	out.Reset()
	boom := errors.New("line 2: bad")
	err = WithProgress(&out, "Imported", 3, true, func(bar *ProgressBar) error {
		bar.Add(1)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NotContains(t, out.String(), "✓")
}
