package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

// Profile is one capture attempt in the fallback ladder.
type Profile struct {
	Name        string
	Constraints core.Constraints
}

// DefaultProfiles is tried in order; the first success wins.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name: "hd",
			Constraints: core.Constraints{
				Video: &core.VideoConstraints{Width: 1280, Height: 720, FrameRate: 30},
				Audio: &core.AudioConstraints{NoiseSuppression: true, EchoCancellation: true},
			},
		},
		{
			Name: "sd",
			Constraints: core.Constraints{
				Video: &core.VideoConstraints{Width: 640, Height: 480},
				Audio: &core.AudioConstraints{},
			},
		},
		{
			Name: "best-effort",
			Constraints: core.Constraints{
				Video: &core.VideoConstraints{},
				Audio: &core.AudioConstraints{},
			},
		},
		{
			Name: "audio-only",
			Constraints: core.Constraints{
				Audio: &core.AudioConstraints{},
			},
		},
	}
}

// DeviceAcquirer obtains a local stream, degrading through Profiles.
type DeviceAcquirer struct {
	Devices  core.MediaDevices
	Profiles []Profile
	// Secure reports whether capture is allowed at all. Nil means yes.
	Secure func() bool
}

func NewDeviceAcquirer(devices core.MediaDevices, secure func() bool) *DeviceAcquirer {
	return &DeviceAcquirer{Devices: devices, Profiles: DefaultProfiles(), Secure: secure}
}

func (a *DeviceAcquirer) Acquire(ctx context.Context) (*core.LocalStream, error) {
	if a.Secure != nil && !a.Secure() {
		return nil, domain.NewCallError(domain.CodeInsecureContext, errors.New("media capture needs a secure origin"))
	}
	profiles := a.Profiles
	if len(profiles) == 0 {
		profiles = DefaultProfiles()
	}

	var last error
	for _, p := range profiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stream, err := a.Devices.GetUserMedia(ctx, p.Constraints)
		if err == nil {
			log.Info().Str("module", "app.devices").Str("profile", p.Name).Msg("media acquired")
			return stream, nil
		}
		log.Debug().Str("module", "app.devices").Str("profile", p.Name).Err(err).Msg("profile failed")
		last = err
	}
	return nil, classifyMediaError(last)
}

func classifyMediaError(err error) error {
	reason := domain.MediaUnknown
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		reason = domain.MediaDenied
	case errors.Is(err, domain.ErrDeviceNotFound):
		reason = domain.MediaNotFound
	case errors.Is(err, domain.ErrConstraintUnsupported):
		reason = domain.MediaUnsupported
	}
	return domain.NewMediaError(reason, fmt.Errorf("all capture profiles failed: %w", err))
}

// SecureOrigin is the capture gate for an origin: https/wss or a loopback host.
func SecureOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
