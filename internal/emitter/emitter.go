package emitter

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os/exec"
	"strings"
	"sync"

	"keytrace/internal/logging"
)

// Emitter synthesizes a single keystroke at the OS level.
type Emitter interface {
	Emit(ctx context.Context, r rune) error
	GetName() string
}

const DefaultCharset = "abcdefghijklmnopqrstuvwxyz"

// CharSource hands out random characters to inject. Safe for concurrent use.
type CharSource struct {
	charset []rune
	rng     *rand.Rand
	mu      sync.Mutex
}

func NewCharSource(charset string, seed int64) *CharSource {
	if charset == "" {
		charset = DefaultCharset
	}
	return &CharSource{
		charset: []rune(charset),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (cs *CharSource) Next() rune {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.charset[cs.rng.Intn(len(cs.charset))]
}

// commandRunner is swapped out in tests.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stderr.Bytes(), nil
}

// XdotoolEmitter types characters into the focused X11 window through xdotool.
// It needs no privileges beyond access to the X display.
type XdotoolEmitter struct {
	binary string
	run    commandRunner
}

func NewXdotoolEmitter(binary string) *XdotoolEmitter {
	if binary == "" {
		binary = "xdotool"
	}
	return &XdotoolEmitter{binary: binary, run: execRunner}
}

func (e *XdotoolEmitter) GetName() string { return "xdotool" }

func (e *XdotoolEmitter) Emit(ctx context.Context, r rune) error {
	_, err := e.run(ctx, e.binary, "type", "--delay", "0", "--", string(r))
	return err
}

// YdotoolEmitter goes through the uinput based ydotool daemon, which also
// works under Wayland compositors.
type YdotoolEmitter struct {
	binary string
	run    commandRunner
}

func NewYdotoolEmitter(binary string) *YdotoolEmitter {
	if binary == "" {
		binary = "ydotool"
	}
	return &YdotoolEmitter{binary: binary, run: execRunner}
}

func (e *YdotoolEmitter) GetName() string { return "ydotool" }

func (e *YdotoolEmitter) Emit(ctx context.Context, r rune) error {
	_, err := e.run(ctx, e.binary, "type", "--key-delay", "0", "--", string(r))
	return err
}

// NopEmitter only logs; used for dry runs of a schedule.
type NopEmitter struct{}

func (NopEmitter) GetName() string { return "nop" }

func (NopEmitter) Emit(ctx context.Context, r rune) error {
	logging.GetLogger().WithField("char", string(r)).Trace("Dry run keystroke")
	return ctx.Err()
}

// New returns the emitter registered under implementation.
func New(implementation, binary string) (Emitter, error) {
	switch strings.ToLower(implementation) {
	case "", "xdotool":
		return NewXdotoolEmitter(binary), nil
	case "ydotool":
		return NewYdotoolEmitter(binary), nil
	case "nop", "dry-run":
		return NopEmitter{}, nil
	default:
		return nil, fmt.Errorf("unknown emitter implementation %q", implementation)
	}
}
