package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/callring/internal/adapters/rtc"
	"github.com/dkeye/callring/internal/adapters/wsclient"
	"github.com/dkeye/callring/internal/client"
	"github.com/dkeye/callring/internal/config"
	"github.com/dkeye/callring/internal/domain"
)

// staticPermissions stands in for the OS prompt.
type staticPermissions struct{ deny bool }

func (p staticPermissions) Request(context.Context, client.Constraints) error {
	if p.deny {
		return client.ErrPermissionDenied
	}
	return nil
}

type logRinger struct{}

func (logRinger) Ring(in client.Incoming) {
	ev := log.Info().Str("module", "ringer").Str("from", string(in.From)).Str("source", string(in.Source))
	if in.Display != nil {
		ev = ev.Str("caller_name", in.Display.CallerName).Str("media", in.Display.Media)
	}
	ev.Msg("incoming call")
}

func (logRinger) StopRinging(from domain.UserID) {
	log.Info().Str("module", "ringer").Str("from", string(from)).Msg("stop ringing")
}

func (logRinger) ShowMissed(from domain.UserID, _ *domain.DisplayMetadata) {
	log.Info().Str("module", "ringer").Str("from", string(from)).Msg("missed call")
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	fs := pflag.NewFlagSet("callring-client", pflag.ExitOnError)
	config.ClientFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.LoadClient(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		os.Exit(2)
	}
	config.ApplyLogLevel(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api, err := rtc.NewAPI()
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc api")
	}

	self := domain.UserID(cfg.UserID)
	var d *client.Dispatcher
	ws := wsclient.New(wsclient.Options{
		URL:       cfg.ServerURL,
		UserID:    self,
		PushToken: domain.PushToken(cfg.PushToken),
	}, func(m domain.Message) {
		if err := d.Submit(ctx, client.SocketEvent(m)); err != nil {
			log.Debug().Err(err).Str("module", "main").Msg("dropped socket event")
		}
	})

	d = client.NewDispatcher(client.Config{
		Self:        self,
		Display:     &domain.DisplayMetadata{CallerName: cfg.UserID, Media: "audio"},
		Media:       client.Constraints{Audio: true},
		AutoAccept:  cfg.AutoAccept,
		Signal:      ws,
		Peers:       rtc.NewPeerFactory(api, rtc.DefaultWebRTCConfig(cfg.StunURLs)),
		Source:      rtc.SyntheticSource{},
		Permissions: staticPermissions{deny: cfg.DenyMedia},
		Ringer:      logRinger{},
		OnCall: func(c *client.Call) {
			c.OnEnded(func(s client.Snapshot) {
				log.Info().Str("module", "main").
					Str("remote", string(s.Remote)).
					Str("reason", string(s.Reason)).
					Bool("connected", s.Connected).
					Msg("call ended")
			})
		},
	})

	if err := ws.EnsureConnected(ctx); err != nil {
		log.Fatal().Err(err).Msg("connect to relay")
	}
	go func() { _ = ws.Run(ctx) }()

	if cfg.Call != "" {
		action := client.Action{Kind: client.ActionStartCall, Remote: domain.UserID(cfg.Call), RingFirst: cfg.RingFirst}
		if err := d.Submit(ctx, client.UserEvent(action)); err != nil {
			log.Fatal().Err(err).Msg("start call")
		}
	}

	log.Info().Str("module", "main").Str("user", cfg.UserID).Msg("client running, ctrl-c to hang up and quit")
	_ = d.Run(ctx)
	ws.Close()
}
