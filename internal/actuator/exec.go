package actuator

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/edit"
	"github.com/mattn/go-shellwords"
)

// Templates are command lines for the exec actuator. Arguments may contain
// {text}, {count} and {delay} (milliseconds per key). An argument of the form
// {repeat:a,b} expands to a b repeated {count} times.
type Templates struct {
	Type   string
	Delete string
	Paste  string
}

var presets = map[string]Templates{
	"xdotool": {
		Type:   "xdotool type --delay {delay} -- {text}",
		Delete: "xdotool key --delay {delay} --repeat {count} BackSpace",
		Paste:  "xdotool key --clearmodifiers ctrl+v",
	},
	"wtype": {
		Type:   "wtype -d {delay} -- {text}",
		Delete: "wtype -d {delay} {repeat:-k,BackSpace}",
		Paste:  "wtype -M ctrl v -m ctrl",
	},
}

// Runner executes one command line.
type Runner func(ctx context.Context, argv []string) error

// ExecOption customises an Exec actuator.
type ExecOption func(*Exec)

// WithRunner replaces process execution, skipping the binary lookup.
func WithRunner(r Runner) ExecOption {
	return func(e *Exec) { e.run = r }
}

// WithClipboard replaces the system clipboard.
func WithClipboard(c Clipboard) ExecOption {
	return func(e *Exec) { e.clip = c }
}

// Exec drives an external keystroke tool such as xdotool or wtype.
type Exec struct {
	typeArgv   []string
	deleteArgv []string
	pasteArgv  []string
	delay      time.Duration
	fallback   bool
	timeout    time.Duration
	logger     *slog.Logger
	run        Runner
	clip       Clipboard
}

func NewExec(t Templates, cfg config.ActuatorConfig, logger *slog.Logger, opts ...ExecOption) (*Exec, error) {
	if logger == nil {
		logger = slog.Default()
	}
	parse := func(name, line string, required bool) ([]string, error) {
		if strings.TrimSpace(line) == "" {
			if required {
				return nil, fmt.Errorf("%s command is empty", name)
			}
			return nil, nil
		}
		args, err := shellwords.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("parse %s command: %w", name, err)
		}
		return args, nil
	}
	typeArgv, err := parse("type", t.Type, true)
	if err != nil {
		return nil, err
	}
	deleteArgv, err := parse("delete", t.Delete, true)
	if err != nil {
		return nil, err
	}
	pasteArgv, err := parse("paste", t.Paste, false)
	if err != nil {
		return nil, err
	}

	e := &Exec{
		typeArgv:   typeArgv,
		deleteArgv: deleteArgv,
		pasteArgv:  pasteArgv,
		delay:      charDelay(cfg),
		fallback:   cfg.ClipboardFallback && len(pasteArgv) > 0,
		timeout:    time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:     logger,
		clip:       systemClipboard{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.run == nil {
		for _, argv := range [][]string{typeArgv, deleteArgv} {
			if _, err := exec.LookPath(argv[0]); err != nil {
				return nil, fmt.Errorf("keystroke tool unavailable: %w", err)
			}
		}
		e.run = runCommand
	}
	return e, nil
}

func (e *Exec) Apply(ctx context.Context, plan edit.Plan) error {
	deletes, insert, err := suffixEdit(plan)
	if err != nil {
		return err
	}
	if deletes > 0 {
		if err := e.runTemplate(ctx, e.deleteArgv, "", deletes); err != nil {
			return fmt.Errorf("%w: delete %d: %v", ErrApplyFailed, deletes, err)
		}
	}
	if insert == "" {
		return nil
	}
	typeErr := e.runTemplate(ctx, e.typeArgv, insert, edit.Len(insert))
	if typeErr == nil {
		return nil
	}
	if !e.fallback {
		return partial(deletes, fmt.Errorf("%w: type: %v", ErrApplyFailed, typeErr))
	}
	e.logger.Info("direct typing failed, trying clipboard fallback", slogError(typeErr))
	if err := pasteViaClipboard(e.clip, insert, func() error {
		return e.runTemplate(ctx, e.pasteArgv, "", 1)
	}); err != nil {
		return partial(deletes, fmt.Errorf("%w: type: %v; clipboard fallback: %v", ErrApplyFailed, typeErr, err))
	}
	return nil
}

func (e *Exec) runTemplate(ctx context.Context, argv []string, text string, count int) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.run(ctx, expand(argv, text, count, e.delay))
}

func expand(argv []string, text string, count int, delay time.Duration) []string {
	r := strings.NewReplacer(
		"{text}", text,
		"{count}", strconv.Itoa(count),
		"{delay}", strconv.FormatInt(delay.Milliseconds(), 10),
	)
	out := make([]string, 0, len(argv))
	for _, arg := range argv {
		if strings.HasPrefix(arg, "{repeat:") && strings.HasSuffix(arg, "}") {
			parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(arg, "{repeat:"), "}"), ",")
			for i := 0; i < count; i++ {
				out = append(out, parts...)
			}
			continue
		}
		out = append(out, r.Replace(arg))
	}
	return out
}

func runCommand(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
