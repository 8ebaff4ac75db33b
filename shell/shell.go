package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tapware/nfcshell/reader"
)

// Fixed conversation strings.
const (
	banner   = "NFC Shell CLI Application"
	prompt   = "> "
	farewell = "Exiting NFC Shell"
	helpText = "Read the README.md file perhaps?"
	noCard   = "No card detected."
	loopHint = "Press ctrl+c to return to the prompt..."
)

// Options adjusts shell behavior. Zero values select the defaults.
type Options struct {
	RunTimeout   time.Duration // card wait budget for run, default 15s
	LoopTimeout  time.Duration // card wait budget per loop iteration, default 5m
	LoopDelay    time.Duration // pause between loop iterations, default 2s
	PollInterval time.Duration // presence poll cadence, default 500ms

	In    io.Reader      // defaults to os.Stdin
	Out   io.Writer      // defaults to os.Stdout
	Clock Clock          // defaults to the real clock
	Log   zerolog.Logger // defaults to a disabled logger

	// Exit ends the process when the user interrupts an idle shell or
	// the process receives SIGTERM. Defaults to os.Exit; main injects
	// a function that also releases the reader.
	Exit func(code int)
}

// Shell drives the interactive prompt against one reader transport.
// Input, presence waits, execution and printing all happen on the
// goroutine that calls Run; Interrupt and Terminate are the only
// methods safe to call from other goroutines.
type Shell struct {
	transport reader.Transport

	runTimeout   time.Duration
	loopTimeout  time.Duration
	loopDelay    time.Duration
	pollInterval time.Duration

	in    io.Reader
	out   io.Writer
	clock Clock
	log   zerolog.Logger
	exit  func(int)

	mu     sync.Mutex
	cancel context.CancelFunc // cancels the active operation; nil at the prompt
}

// New creates a Shell talking to the given transport.
func New(transport reader.Transport, opts Options) *Shell {
	if opts.RunTimeout == 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if opts.LoopTimeout == 0 {
		opts.LoopTimeout = DefaultLoopTimeout
	}
	if opts.LoopDelay == 0 {
		opts.LoopDelay = DefaultLoopDelay
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Clock == nil {
		opts.Clock = NewRealClock()
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}

	return &Shell{
		transport:    transport,
		runTimeout:   opts.RunTimeout,
		loopTimeout:  opts.LoopTimeout,
		loopDelay:    opts.LoopDelay,
		pollInterval: opts.PollInterval,
		in:           opts.In,
		out:          opts.Out,
		clock:        opts.Clock,
		log:          opts.Log,
		exit:         opts.Exit,
	}
}

// Run reads and executes input lines until an exit command or end of
// input, then prints the farewell. The returned error is an input read
// failure; clean exits return nil.
func (s *Shell) Run() error {
	fmt.Fprintln(s.out, banner)

	scanner := bufio.NewScanner(s.in)
	for {
		fmt.Fprint(s.out, prompt)
		if !scanner.Scan() {
			// End of input counts as an exit request.
			fmt.Fprintln(s.out)
			break
		}
		if s.dispatch(scanner.Text()) {
			break
		}
	}

	fmt.Fprintln(s.out, farewell)
	return scanner.Err()
}

// dispatch handles one input line and reports whether the shell should
// terminate.
func (s *Shell) dispatch(line string) bool {
	cmd := Classify(line)
	switch cmd.Kind {
	case CommandExit:
		return true
	case CommandHelp:
		fmt.Fprintln(s.out, helpText)
	case CommandInvalid:
		fmt.Fprintln(s.out, cmd.Err)
	case CommandRun:
		s.executeRun(cmd.Batch)
	case CommandLoop:
		s.executeLoop(cmd.Batch)
	default:
		s.executeRaw(cmd.Batch)
	}
	return false
}

// executeRaw sends the batch immediately. No presence wait: if no card
// is in the field the transport reports the failure.
func (s *Shell) executeRaw(batch CommandBatch) {
	ctx, cancel := s.beginOp()
	defer s.endOp(cancel)

	if err := Execute(ctx, s.transport, batch, s.out); err != nil {
		s.log.Debug().Err(err).Msg("Batch aborted")
	}
}

// executeRun waits for a card and sends the batch once.
func (s *Shell) executeRun(batch CommandBatch) {
	ctx, cancel := s.beginOp()
	defer s.endOp(cancel)

	if err := WaitForCard(ctx, s.transport, s.runTimeout, s.pollInterval, s.clock); err != nil {
		s.reportWaitError(err)
		return
	}
	if err := Execute(ctx, s.transport, batch, s.out); err != nil {
		s.log.Debug().Err(err).Msg("Batch aborted")
	}
}

// executeLoop repeats wait-and-execute rounds so a series of chips can
// be processed with the same batch. A wait timeout or an interrupt ends
// the loop; a failed exchange only ends that round.
func (s *Shell) executeLoop(batch CommandBatch) {
	ctx, cancel := s.beginOp()
	defer s.endOp(cancel)

	fmt.Fprintln(s.out, loopHint)

	for n := 1; ; n++ {
		fmt.Fprintf(s.out, "Run #%d:\n", n)

		if err := WaitForCard(ctx, s.transport, s.loopTimeout, s.pollInterval, s.clock); err != nil {
			s.reportWaitError(err)
			return
		}

		if err := Execute(ctx, s.transport, batch, s.out); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Debug().Err(err).Msg("Run failed, waiting for next card")
		}

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.loopDelay):
		}
	}
}

func (s *Shell) reportWaitError(err error) {
	if IsTimeoutError(err) {
		fmt.Fprintln(s.out, noCard)
		return
	}
	// Cancelled: the interrupt already returned the user to the prompt.
	s.log.Debug().Err(err).Msg("Card wait aborted")
}

// beginOp opens a cancellable operation scope that Interrupt can see.
func (s *Shell) beginOp() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	return ctx, cancel
}

func (s *Shell) endOp(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = nil
	s.mu.Unlock()
	cancel()
}

// Interrupt handles a Ctrl-C. During an operation it cancels the
// operation, returning the shell to the prompt. At the prompt it ends
// the process cleanly.
func (s *Shell) Interrupt() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		return
	}

	s.Terminate()
}

// Terminate prints the farewell and ends the process, regardless of
// shell state.
func (s *Shell) Terminate() {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, farewell)
	s.exit(0)
}
