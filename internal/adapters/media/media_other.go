//go:build !linux

package media

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

// SystemDevices has no capture drivers off Linux.
type SystemDevices struct{}

func NewSystemDevices() (*SystemDevices, error) { return &SystemDevices{}, nil }

func (d *SystemDevices) Populate(*webrtc.MediaEngine) {}

func (d *SystemDevices) GetUserMedia(context.Context, core.Constraints) (*core.LocalStream, error) {
	return nil, fmt.Errorf("system capture on this platform: %w", domain.ErrConstraintUnsupported)
}
