package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// maxLineBytes caps a single NDJSON line read from a link.
const maxLineBytes = 4 * 1024 * 1024

// ErrMalformed marks a line that was read but is not a valid envelope. The
// stream itself is still usable.
var ErrMalformed = errors.New("malformed envelope")

// Encoder writes envelopes as newline-delimited JSON. Safe for concurrent use.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode validates env and writes it as one line.
func (e *Encoder) Encode(env *Envelope) error {
	if err := Validate(env); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(env); err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	return nil
}

// Decoder reads envelopes line by line.
type Decoder struct {
	sc *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Decoder{sc: sc}
}

// Decode returns the next envelope. It returns io.EOF when the stream ends
// cleanly. Blank lines are skipped.
func (d *Decoder) Decode() (*Envelope, error) {
	for d.sc.Scan() {
		line := d.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		return DecodeLine(line)
	}
	if err := d.sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read envelope: %w", err)
	}
	return nil, io.EOF
}

// DecodeLine parses a single NDJSON line strictly.
func DecodeLine(line []byte) (*Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := Validate(&env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &env, nil
}

// Validate checks the protocol version and that the payload matches Kind.
func Validate(env *Envelope) error {
	if env == nil {
		return errors.New("envelope is nil")
	}
	if env.Protocol != Version {
		return fmt.Errorf("unsupported protocol version: %d", env.Protocol)
	}

	var ok bool
	switch env.Kind {
	case KindControl:
		ok = env.Control != nil
		if ok && env.Control.Signal == "" {
			return errors.New("control request missing required field: signal")
		}
	case KindControlReply:
		ok = env.ControlReply != nil
	case KindCommand:
		ok = env.Command != nil
		if ok {
			if env.Command.ID <= 0 {
				return fmt.Errorf("command request has invalid id: %d", env.Command.ID)
			}
			if env.Command.Mode != ModeExpression && env.Command.Mode != ModeStatement {
				return fmt.Errorf("invalid mode value: %q (must be 'eval' or 'exec')", env.Command.Mode)
			}
		}
	case KindCommandReply:
		ok = env.CommandReply != nil
		if ok && !env.CommandReply.Successful && env.CommandReply.FailureDetail == "" {
			return errors.New("command response has successful=false but no failure_detail")
		}
	case KindPing, KindPong:
		ok = env.Heartbeat != nil
	case "":
		return errors.New("envelope missing required field: kind")
	default:
		return fmt.Errorf("invalid kind value: %q", env.Kind)
	}
	if !ok {
		return fmt.Errorf("envelope kind %q has no matching payload", env.Kind)
	}
	return nil
}
