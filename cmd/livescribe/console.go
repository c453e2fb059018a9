package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/internal/recorder"
	"github.com/MrWong99/livescribe/pkg/types"
)

// controller is the part of [recorder.Machine] the console drives.
type controller interface {
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	Cancel(ctx context.Context) error
	Reset(ctx context.Context) error
	Status() recorder.Status
	Transcript() string
	EditTranscript(text string) error
}

// console is the line-oriented text UI. Each input line is one command.
type console struct {
	rec controller

	// batch re-transcribes the last recording; nil disables the command.
	batch func(ctx context.Context) (string, error)

	mu  sync.Mutex
	out io.Writer
}

const helpText = `commands:
  start           begin a recording
  pause, resume   suspend or continue the microphone
  stop            finish the recording and keep the transcript
  cancel          abort the recording and discard the transcript
  reset           clear a finished recording
  status          show state, elapsed time and transcript
  edit <text>     replace the finished transcript
  batch           re-transcribe the last recording with the batch backends
  quit            exit`

func newConsole(rec controller, out io.Writer) *console {
	return &console{rec: rec, out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// run reads commands from in until quit, EOF or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	c.printf("type 'help' for commands\n")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.exec(ctx, line); quit {
				return nil
			}
		}
	}
}

// exec runs one command line and reports whether the console should exit.
func (c *console) exec(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	var err error
	switch strings.ToLower(cmd) {
	case "":
		return false
	case "start":
		err = c.rec.Start(ctx)
	case "pause":
		err = c.rec.Pause(ctx)
	case "resume":
		err = c.rec.Resume(ctx)
	case "stop":
		if err = c.rec.Stop(ctx); err == nil {
			c.printf("transcript: %s\n", c.rec.Transcript())
		}
	case "cancel":
		err = c.rec.Cancel(ctx)
	case "reset":
		err = c.rec.Reset(ctx)
	case "status":
		c.printStatus(c.rec.Status())
		c.printf("transcript: %s\n", c.rec.Transcript())
	case "edit":
		err = c.rec.EditTranscript(strings.TrimSpace(arg))
	case "batch":
		err = c.runBatch(ctx)
	case "help", "?":
		c.printf("%s\n", helpText)
	case "quit", "exit":
		return true
	default:
		c.printf("unknown command %q, type 'help'\n", cmd)
	}
	if err != nil {
		c.printf("error: %s\n", describe(err))
	}
	return false
}

func (c *console) runBatch(ctx context.Context) error {
	if c.batch == nil {
		return errors.New("no batch provider configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	text, err := c.batch(ctx)
	if err != nil {
		return err
	}
	c.printf("batch transcript: %s\n", text)
	return nil
}

// watch prints every status change from updates until it is closed.
func (c *console) watch(updates <-chan recorder.Status) {
	var last recorder.State = -1
	for st := range updates {
		if st.State == last {
			continue
		}
		last = st.State
		c.printStatus(st)
	}
}

func (c *console) printStatus(st recorder.Status) {
	switch {
	case st.State == recorder.StateError && st.Err != nil:
		c.printf("[%s] %s\n", st.State, describe(st.Err))
	case st.MaxDuration > 0:
		c.printf("[%s] %s / %s\n", st.State, st.Elapsed.Round(time.Second), st.MaxDuration)
	default:
		c.printf("[%s] %s\n", st.State, st.Elapsed.Round(time.Second))
	}
}

// describe renders err for the user, preferring the classified reason.
func describe(err error) string {
	var classified *types.Error
	switch {
	case errors.As(err, &classified):
		return classified.Reason
	case errors.Is(err, recorder.ErrBusy):
		return "a recording is already in progress"
	case errors.Is(err, recorder.ErrInvalidTransition):
		return "not possible right now"
	}
	return types.Reason(err)
}
