// Package console renders mirror/prune/verify status to a terminal: plain
// log lines interleaved with a single progress bar that never gets torn by
// a concurrent Printf.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/cheggaaa/pb"
	"github.com/wsxiaoys/terminal/color"
	"golang.org/x/crypto/ssh/terminal"
)

// BarType selects the unit the progress bar counts in.
type BarType int

const (
	// BarTypeBytes ticks the bar by bytes transferred, with a speed readout.
	BarTypeBytes BarType = iota
	// BarTypeItems ticks the bar by discrete items (files, packages).
	BarTypeItems
)

// Progress is the sink every other package writes status through. It is
// safe to share across goroutines: all rendering happens on one worker
// goroutine, fed by a queue of render operations.
type Progress interface {
	// Writer lets a Progress stand in as the destination of an io.Copy so
	// the bytes it copies to tick the progress bar.
	io.Writer

	Start()
	Shutdown()

	InitBar(count int64, barType BarType)
	ShutdownBar()
	AddBar(count int)
	SetBar(count int)

	Printf(msg string, a ...interface{})
	PrintfStdErr(msg string, a ...interface{})
	ColoredPrintf(msg string, a ...interface{})
}

// renderState is the worker goroutine's private state: whether a bar is
// currently attached and whether its last render is still on screen
// (and so needs clearing before the next log line prints over it).
type renderState struct {
	barActive bool
	barShown  bool
}

func (s *renderState) clearBar() {
	if s.barShown {
		fmt.Print("\r\033[2K")
		s.barShown = false
	}
}

func (s *renderState) printLine(w io.Writer, line string) {
	s.clearBar()
	fmt.Fprint(w, line)
}

func (s *renderState) renderBar(line string) {
	if !s.barActive {
		return
	}
	fmt.Print("\r" + line)
	s.barShown = true
}

// progress is a single-goroutine renderer driven by a queue of closures:
// each public method builds the line/event it needs up front and hands
// the worker a function that applies it against renderState, rather than
// a tagged message the worker has to switch on. This keeps every
// rendering rule (what clears the bar, what doesn't) next to the state
// it touches instead of spread across a dispatch table.
type progress struct {
	ops     chan func(*renderState)
	stopped chan struct{}
	bar     *pb.ProgressBar
}

// New creates a Progress ready for Start.
func New() Progress {
	return &progress{
		ops:     make(chan func(*renderState), 100),
		stopped: make(chan struct{}),
	}
}

func (p *progress) Start() {
	go p.worker()
}

func (p *progress) worker() {
	state := &renderState{}
	for op := range p.ops {
		op(state)
	}
	close(p.stopped)
}

func (p *progress) Shutdown() {
	p.ShutdownBar()
	close(p.ops)
	<-p.stopped
}

// Flush blocks until every queued render operation has run.
func (p *progress) Flush() {
	done := make(chan struct{})
	p.ops <- func(*renderState) { close(done) }
	<-done
}

func (p *progress) InitBar(count int64, barType BarType) {
	if p.bar != nil {
		panic("bar already initialized")
	}
	if !RunningOnTerminal() {
		return
	}

	p.bar = pb.New(0)
	p.bar.Total = count
	p.bar.NotPrint = true
	p.bar.Callback = func(out string) {
		p.ops <- func(s *renderState) { s.renderBar(out) }
	}

	if barType == BarTypeBytes {
		p.bar.SetUnits(pb.U_BYTES)
		p.bar.ShowSpeed = true
	}

	p.ops <- func(s *renderState) { s.barActive = true }
	p.bar.Start()
}

func (p *progress) ShutdownBar() {
	if p.bar == nil {
		return
	}
	p.bar.Finish()
	p.bar = nil
	p.ops <- func(s *renderState) {
		s.barActive = false
		s.clearBar()
	}
}

func (p *progress) Write(b []byte) (int, error) {
	if p.bar != nil {
		p.bar.Add(len(b))
	}
	return len(b), nil
}

func (p *progress) AddBar(count int) {
	if p.bar != nil {
		p.bar.Add(count)
	}
}

func (p *progress) SetBar(count int) {
	if p.bar != nil {
		p.bar.Set(count)
	}
}

func (p *progress) Printf(msg string, a ...interface{}) {
	line := fmt.Sprintf(msg, a...)
	p.ops <- func(s *renderState) { s.printLine(os.Stdout, line) }
}

func (p *progress) PrintfStdErr(msg string, a ...interface{}) {
	line := fmt.Sprintf(msg, a...)
	p.ops <- func(s *renderState) { s.printLine(os.Stderr, line) }
}

// ColoredPrintf interprets @{code}...@{|} markup (see the color package)
// when stdout is a terminal, and strips the markup down to plain text
// otherwise — a mirror run piped into a log file should never end up
// with raw escape codes in it.
func (p *progress) ColoredPrintf(msg string, a ...interface{}) {
	if RunningOnTerminal() {
		line := color.Sprintf(msg, a...) + "\n"
		p.ops <- func(s *renderState) { s.printLine(os.Stdout, line) }
		return
	}
	p.Printf(stripColorMarkup(msg)+"\n", a...)
}

// stripColorMarkup removes @{...} directives from msg. A literal "@" is
// written as "@@". The scan is a three-state machine: plain text, just
// after an unescaped "@" (mark), and inside a "{...}" body.
func stripColorMarkup(msg string) string {
	const (
		stateText = iota
		stateMark
		stateBody
	)
	state := stateText
	return strings.Map(func(r rune) rune {
		switch state {
		case stateBody:
			if r == '}' {
				state = stateText
			}
			return -1
		case stateMark:
			switch r {
			case '{':
				state = stateBody
				return -1
			case '@':
				return '@'
			default:
				state = stateText
				return -1
			}
		default:
			if r == '@' {
				state = stateMark
				return -1
			}
			return r
		}
	}, msg)
}

// RunningOnTerminal checks whether stdout is an interactive terminal; the
// progress bar is only drawn when it is.
func RunningOnTerminal() bool {
	return terminal.IsTerminal(syscall.Stdout)
}
