// Package oracle runs user-supplied strategy code in a separate, short-lived
// process per evaluation. The code is untrusted and is never loaded into this
// process: isolation is the whole point of the boundary.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"quantlab/internal/infrastructure"
	"quantlab/internal/model"
)

const DefaultTimeout = 5 * time.Second

// Process invokes an external evaluator command once per candle. The request
// goes to stdin as JSON, the signal comes back on stdout as JSON. On timeout
// the process is killed.
type Process struct {
	command []string
	timeout time.Duration
	logger  *zap.Logger
}

// NewProcess splits command on whitespace, e.g.
// "python3 scripts/oracle_runner.py".
func NewProcess(command string, timeout time.Duration, logger *zap.Logger) (*Process, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, errors.New("oracle command is empty")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Process{command: parts, timeout: timeout, logger: logger}, nil
}

type request struct {
	Code       string         `json:"code"`
	Symbol     string         `json:"symbol"`
	Resolution string         `json:"resolution"`
	Candles    []model.Candle `json:"candles"`
}

// Evaluate runs one evaluation. A null or empty answer means the strategy
// has nothing to say and is returned as HOLD. Errors (timeout, crash,
// malformed output) are for the caller to degrade as it sees fit.
func (p *Process) Evaluate(ctx context.Context, code string, window []model.Candle, symbol string, resolution model.Resolution) (model.Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	payload, err := json.Marshal(request{
		Code:       code,
		Symbol:     symbol,
		Resolution: string(resolution),
		Candles:    window,
	})
	if err != nil {
		return model.Signal{}, fmt.Errorf("encoding oracle request: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
	// Orphaned children can hold the stdout pipe open past the kill; give up
	// on them instead of blocking the run.
	cmd.WaitDelay = time.Second
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			infrastructure.OracleTimeouts.Inc()
			return model.Signal{}, fmt.Errorf("oracle timed out after %s", p.timeout)
		}
		p.logger.Debug("oracle process failed",
			zap.String("command", p.command[0]),
			zap.String("stderr", firstLine(stderr.String())))
		return model.Signal{}, fmt.Errorf("oracle process failed: %w: %s", err, firstLine(stderr.String()))
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" || out == "null" {
		return model.Signal{Signal: model.SignalHold}, nil
	}

	var sig model.Signal
	if err := json.Unmarshal([]byte(out), &sig); err != nil {
		return model.Signal{}, fmt.Errorf("decoding oracle output: %w", err)
	}
	if sig.Signal == "" {
		return model.Signal{Signal: model.SignalHold}, nil
	}
	if !sig.Signal.Valid() {
		return model.Signal{}, fmt.Errorf("oracle returned unknown signal %q", sig.Signal)
	}
	return sig, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
