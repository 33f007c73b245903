package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a message on one line until stopped
type Spinner struct {
	w        io.Writer
	message  string
	interval time.Duration
	color    *color.Color

	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
}

// NewSpinner creates a spinner redrawn every interval (100ms when zero)
func NewSpinner(w io.Writer, message string, interval time.Duration, noColor bool) *Spinner {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Spinner{
		w:        w,
		message:  message,
		interval: interval,
		color:    paint(noColor, color.FgCyan),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start draws frames in a goroutine
func (s *Spinner) Start() {
	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-s.stop:
				fmt.Fprint(s.w, "\r\033[K")
				return
			case <-ticker.C:
				s.color.Fprintf(s.w, "\r%s %s", spinnerFrames[i%len(spinnerFrames)], s.message)
			}
		}
	}()
}

// Stop clears the line; it waits for the drawing goroutine and may be
// called more than once
func (s *Spinner) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.stopped
	})
}

// ProgressBar draws a fixed-width bar for a known amount of work
type ProgressBar struct {
	w       io.Writer
	total   int
	current int
	width   int
	message string
	noColor bool
}

// NewProgressBar creates a bar of width cells (40 when zero)
func NewProgressBar(w io.Writer, message string, total, width int, noColor bool) *ProgressBar {
	if width <= 0 {
		width = 40
	}
	return &ProgressBar{w: w, total: total, width: width, message: message, noColor: noColor}
}

// Add advances the bar by n, never past total
func (p *ProgressBar) Add(n int) {
	p.current += n
	if p.current > p.total {
		p.current = p.total
	}
	p.render()
}

// Current returns the amount of work done
func (p *ProgressBar) Current() int { return p.current }

func (p *ProgressBar) render() {
	if p.total <= 0 {
		return
	}
	filled := p.width * p.current / p.total
	var b strings.Builder
	b.WriteByte('[')
	paint(p.noColor, color.FgCyan).Fprint(&b, strings.Repeat("█", filled))
	paint(p.noColor, color.FgHiBlack).Fprint(&b, strings.Repeat("░", p.width-filled))
	b.WriteByte(']')
	fmt.Fprintf(p.w, "\r%s %3d%% %s", b.String(), 100*p.current/p.total, p.message)
}

// WithSpinner runs fn behind a spinner and reports how it ended
func WithSpinner(w io.Writer, message string, noColor bool, fn func() error) error {
	s := NewSpinner(w, message, 0, noColor)
	s.Start()
	err := fn()
	s.Stop()
	if err != nil {
		paint(noColor, color.FgRed, color.Bold).Fprintf(w, "❌ %s failed\n", message)
		return err
	}
	fmt.Fprintln(w, FormatSuccess(message, noColor))
	return nil
}

// WithProgress runs fn with a bar of total steps and reports how it ended
func WithProgress(w io.Writer, message string, total int, noColor bool, fn func(*ProgressBar) error) error {
	bar := NewProgressBar(w, message, total, 0, noColor)
	if err := fn(bar); err != nil {
		fmt.Fprintln(w)
		return err
	}
	bar.current = bar.total
	bar.render()
	if total > 0 {
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, FormatSuccess(message, noColor))
	return nil
}

// paint returns a color that honors noColor
func paint(noColor bool, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if noColor {
		c.DisableColor()
	}
	return c
}
