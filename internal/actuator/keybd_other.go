//go:build !linux && !windows

package actuator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/edit"
)

type Keybd struct{}

func NewKeybd(config.ActuatorConfig, *slog.Logger) (*Keybd, error) {
	return nil, fmt.Errorf("keybd actuator is not supported on %s", runtime.GOOS)
}

func (k *Keybd) Apply(context.Context, edit.Plan) error {
	return ErrApplyFailed
}
