package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/abiosoft/readline"
	"github.com/briandowns/spinner"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
	envelopex "github.com/tanpawarit/owid-chain/agent/envelope"
)

const Prompt = "Type your question ('q' to exit): "

// LineReader is the subset of a readline instance the loop needs.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

type Asker interface {
	Ask(ctx context.Context, query string) envelopex.Envelope
}

// NewLineReader opens an interactive prompt with optional persistent
// history. An empty historyFile keeps history in memory only.
func NewLineReader(historyFile string) (LineReader, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          Prompt,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "q",
	})
	if err != nil {
		return nil, fmt.Errorf("open line reader: %w", err)
	}
	return rl, nil
}

type REPLOption func(*REPL)

// WithSpinner shows a progress spinner on w while a turn runs. The spinner
// stays silent when w is not a terminal.
func WithSpinner(w io.Writer) REPLOption {
	return func(r *REPL) {
		r.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
		r.spin.Suffix = " Please wait ..."
	}
}

// REPL reads one question per line, runs it and renders the envelope. A
// failed turn never ends the loop; only 'q', EOF or a cancelled context do.
type REPL struct {
	reader    LineReader
	asker     Asker
	presenter contractx.Presenter
	spin      *spinner.Spinner
}

func NewREPL(reader LineReader, asker Asker, presenter contractx.Presenter, opts ...REPLOption) (*REPL, error) {
	if reader == nil || asker == nil || presenter == nil {
		return nil, errors.New("console: reader, asker and presenter are required")
	}
	r := &REPL{reader: reader, asker: asker, presenter: presenter}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *REPL) Run(ctx context.Context) error {
	defer r.reader.Close()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		line, err := r.reader.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("read question: %w", err)
		}

		question := strings.TrimSpace(line)
		if strings.EqualFold(question, "q") {
			return nil
		}
		if question == "" {
			continue
		}

		env := r.ask(ctx, question)
		if err := r.presenter.Render(question, env); err != nil {
			log.Error().Err(err).Str("query", question).Msg("console: render failed")
		}
	}
}

func (r *REPL) ask(ctx context.Context, question string) envelopex.Envelope {
	if r.spin != nil {
		r.spin.Start()
		defer r.spin.Stop()
	}
	return r.asker.Ask(ctx, question)
}
