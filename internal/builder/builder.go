package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotConfigured is returned when no builder command is set.
var ErrNotConfigured = errors.New("builder command not configured")

// Trigger asks an external builder to regenerate the model.
type Trigger interface {
	Trigger(ctx context.Context, ticker, reason string) error
}

// Options configure the external command.
type Options struct {
	Command []string
	Timeout time.Duration
}

// Exec launches a configured command and does not wait for it. The ticker
// and reason are passed as trailing arguments and in the environment.
type Exec struct {
	opts   Options
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewExec constructs an exec-based trigger.
func NewExec(opts Options, logger zerolog.Logger) *Exec {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	return &Exec{opts: opts, logger: logger.With().Str("component", "builder").Logger()}
}

// Trigger starts the command and returns once it is running.
func (e *Exec) Trigger(_ context.Context, ticker, reason string) error {
	if e == nil || len(e.opts.Command) == 0 || e.opts.Command[0] == "" {
		return ErrNotConfigured
	}

	// the build outlives the request that triggered it
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.Timeout)
	args := append(append([]string{}, e.opts.Command[1:]...), ticker, reason)
	cmd := exec.CommandContext(ctx, e.opts.Command[0], args...)
	cmd.Env = append(os.Environ(),
		"PRICECAST_RETRAIN_TICKER="+ticker,
		"PRICECAST_RETRAIN_REASON="+reason,
	)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start builder: %w", err)
	}
	e.logger.Info().Str("ticker", ticker).Str("reason", reason).Int("pid", cmd.Process.Pid).Msg("builder started")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		if err := cmd.Wait(); err != nil {
			e.logger.Error().Err(err).Str("ticker", ticker).Str("output", tail(output.String())).Msg("builder failed")
			return
		}
		e.logger.Info().Str("ticker", ticker).Msg("builder finished")
	}()
	return nil
}

// Wait blocks until every started build has exited.
func (e *Exec) Wait() {
	e.wg.Wait()
}

func tail(s string) string {
	const limit = 2048
	if len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}

var _ Trigger = (*Exec)(nil)
