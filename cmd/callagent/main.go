package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Telecall/internal/adapters/media"
	"github.com/dkeye/Telecall/internal/adapters/rtc"
	relay "github.com/dkeye/Telecall/internal/adapters/signal"
	"github.com/dkeye/Telecall/internal/app"
	"github.com/dkeye/Telecall/internal/app/orch"
	"github.com/dkeye/Telecall/internal/config"
	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

const joinRetry = 2 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := pflag.NewFlagSet("callagent", pflag.ExitOnError)
	flags.String("server", "http://localhost:8080", "relay server URL")
	flags.Bool("synthetic", true, "send generated tracks instead of capturing devices")
	flags.String("appointment", "", "appointment id")
	flags.String("identity", "", "participant id of this agent")
	flags.String("role", "initiator", "initiator or responder")
	flags.String("call", "", "call id to join; empty joins the latest open call")
	flags.Duration("duration", 0, "hang up after this long; 0 waits for a signal")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	a := cfg.Agent

	identity, err := domain.NewParticipantID(a.Identity)
	if err != nil {
		log.Fatal().Err(err).Msg("identity")
	}
	role := domain.Role(a.Role)
	if !role.Valid() || a.Appointment == "" {
		log.Fatal().Str("role", a.Role).Str("appointment", a.Appointment).Msg("need --appointment and a role of initiator or responder")
	}

	client, err := relay.NewClient(a.ServerURL)
	if err != nil {
		log.Fatal().Err(err).Msg("relay client")
	}
	defer client.Close()

	devices, codecs, err := openDevices(a.SyntheticMedia)
	if err != nil {
		log.Fatal().Err(err).Msg("media devices")
	}
	rtcCfg := rtc.DefaultConfig()
	rtcCfg.ICEServers = cfg.ICEServers
	rtcCfg.Codecs = codecs

	ended := make(chan struct{})
	var endOnce sync.Once
	o := orch.New(
		orch.Config{
			AppointmentID: domain.AppointmentID(a.Appointment),
			Identity:      identity,
			Role:          role,
			CallID:        domain.CallID(a.CallID),
		},
		orch.Deps{
			Records:       client,
			Devices:       app.NewDeviceAcquirer(devices, func() bool { return app.SecureOrigin(a.ServerURL) }),
			Signaling:     client,
			Mailbox:       client,
			NewNegotiator: rtc.Factory(rtcCfg),
		},
		orch.Callbacks{
			OnLocalMedia: func(s *core.LocalStream) {
				log.Info().Str("module", "callagent").Int("tracks", len(s.Tracks())).Msg("local media ready")
			},
			OnRemoteMedia: func(s *core.RemoteStream) {
				log.Info().Str("module", "callagent").Msg("remote media arrived")
			},
			OnStateChange: func(s app.State) {
				log.Info().Str("module", "callagent").Str("state", string(s)).Msg("call state")
				if s == app.StateEnded {
					endOnce.Do(func() { close(ended) })
				}
			},
			OnError: func(e *domain.CallError) {
				log.Error().Str("module", "callagent").Str("code", string(e.Code)).Err(e).Msg(e.Hint())
			},
		},
	)
	defer func() {
		_ = o.EndCall(context.Background())
		if r := o.RemoteStream(); r != nil {
			log.Info().Str("module", "callagent").Uint64("packets", r.Packets()).Msg("call finished")
		}
	}()

	if err := o.Initialize(ctx); err != nil {
		log.Error().Err(err).Msg("initialize failed")
		return
	}
	if err := connect(ctx, o, role); err != nil {
		log.Error().Err(err).Msg("call setup failed")
		return
	}
	log.Info().Str("module", "callagent").Str("call_id", string(o.CallID())).Msg("call in progress")

	var timeout <-chan time.Time
	if a.Duration > 0 {
		timeout = time.After(a.Duration)
	}
	select {
	case <-ctx.Done():
		log.Info().Msg("interrupted, hanging up")
	case <-timeout:
		log.Info().Dur("duration", a.Duration).Msg("duration elapsed, hanging up")
	case <-ended:
	}
}

// connect starts the call, or joins it once the initiator has offered.
func connect(ctx context.Context, o *orch.Orchestrator, role domain.Role) error {
	if role == domain.RoleInitiator {
		return o.Start(ctx)
	}
	for {
		err := o.Join(ctx)
		if !errors.Is(err, domain.ErrNoOfferPresent) {
			return err
		}
		log.Info().Str("module", "callagent").Msg("no offer yet, waiting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(joinRetry):
		}
	}
}

func openDevices(synthetic bool) (core.MediaDevices, func(*webrtc.MediaEngine) error, error) {
	if synthetic {
		return media.NewSyntheticDevices(), nil, nil
	}
	sys, err := media.NewSystemDevices()
	if err != nil {
		return nil, nil, err
	}
	return sys, func(m *webrtc.MediaEngine) error {
		sys.Populate(m)
		return nil
	}, nil
}
