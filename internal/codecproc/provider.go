package codecproc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"aisio/internal/frame"
	"aisio/internal/logging"
	"aisio/internal/wire"
)

var commandContext = exec.CommandContext

// DefaultTimeout bounds a single provider invocation.
const DefaultTimeout = 10 * time.Second

const maxStderrPreview = 512

// ErrEmptyOutput is reported when a provider exits cleanly but prints nothing.
var ErrEmptyOutput = errors.New("provider produced no output")

// ProviderError describes a failed provider invocation.
type ProviderError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("codec provider %s: %v: %s", e.Command, e.Err, e.Stderr)
	}
	return fmt.Sprintf("codec provider %s: %v", e.Command, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Options configures the external provider. Each command is an argv; the
// payload is appended as the final argument.
type Options struct {
	SerializeCommand   []string
	UnserializeCommand []string
	Timeout            time.Duration
}

// Provider is a frame.Codec backed by external serialize and unserialize
// programs. Serialize receives a JSON `[name, args]` document and prints the
// record; unserialize receives a record and prints `[name, args]` as JSON.
type Provider struct {
	serialize   []string
	unserialize []string
	timeout     time.Duration
	logger      *slog.Logger
}

// New validates opts and returns a Provider.
func New(opts Options, logger *slog.Logger) (*Provider, error) {
	if len(opts.SerializeCommand) == 0 || strings.TrimSpace(opts.SerializeCommand[0]) == "" {
		return nil, errors.New("codec provider: serialize command required")
	}
	if len(opts.UnserializeCommand) == 0 || strings.TrimSpace(opts.UnserializeCommand[0]) == "" {
		return nil, errors.New("codec provider: unserialize command required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Provider{
		serialize:   append([]string(nil), opts.SerializeCommand...),
		unserialize: append([]string(nil), opts.UnserializeCommand...),
		timeout:     opts.Timeout,
		logger:      logging.NewComponentLogger(logger, "codec-provider"),
	}, nil
}

// EncodeEvent serializes evt through the external program. A missing record
// delimiter is appended.
func (p *Provider) EncodeEvent(ctx context.Context, evt frame.Event) ([]byte, error) {
	if evt.Name == "" {
		return nil, errors.New("encode event: empty name")
	}
	payload, err := json.Marshal(evt.Value())
	if err != nil {
		return nil, fmt.Errorf("encode event %q: %w", evt.Name, err)
	}
	out, err := p.run(ctx, p.serialize, string(payload))
	if err != nil {
		return nil, err
	}
	if out[len(out)-1] != wire.RecordDelimiter {
		out = append(out, wire.RecordDelimiter)
	}
	return out, nil
}

// DecodeRecord unserializes one record through the external program.
func (p *Provider) DecodeRecord(ctx context.Context, record []byte) (frame.Event, error) {
	out, err := p.run(ctx, p.unserialize, string(record))
	if err != nil {
		return frame.Event{}, err
	}
	v, err := wire.FromJSON(out)
	if err != nil {
		perr := &ProviderError{Command: p.unserialize[0], Err: err}
		p.report(perr)
		return frame.Event{}, perr
	}
	return frame.EventFromValue(v)
}

func (p *Provider) run(ctx context.Context, argv []string, payload string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := append(append([]string(nil), argv[1:]...), payload)
	cmd := commandContext(ctx, argv[0], args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	errText := preview(stderr.String())
	out := bytes.TrimRight(stdout.Bytes(), "\r\n")
	if err == nil && len(out) == 0 {
		err = ErrEmptyOutput
	}
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		perr := &ProviderError{Command: argv[0], Stderr: errText, Err: err}
		p.report(perr)
		return nil, perr
	}
	if errText != "" {
		logging.WarnWithContext(p.logger, "codec provider wrote to stderr", "codec_provider_stderr",
			logging.String("command", argv[0]),
			logging.String("stderr", errText),
			logging.String(logging.FieldErrorHint, "inspect the provider script output"),
			logging.String(logging.FieldImpact, "output was still used"),
		)
	}
	return out, nil
}

func (p *Provider) report(err *ProviderError) {
	logging.ErrorWithContext(p.logger, "codec provider failed", "codec_provider_failed",
		logging.String("command", err.Command),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check codec.serialize_command and codec.unserialize_command"),
	)
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderrPreview {
		return s[:maxStderrPreview] + "..."
	}
	return s
}

var _ frame.Codec = (*Provider)(nil)
