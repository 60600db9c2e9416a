package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mimic/internal/adapters/gstdev"
	"github.com/dkeye/Mimic/internal/adapters/membership"
	"github.com/dkeye/Mimic/internal/adapters/mqttclient"
	"github.com/dkeye/Mimic/internal/adapters/rtcclient"
	"github.com/dkeye/Mimic/internal/broadcast"
	"github.com/dkeye/Mimic/internal/capture"
	"github.com/dkeye/Mimic/internal/config"
	"github.com/dkeye/Mimic/internal/domain"
	"github.com/dkeye/Mimic/internal/inference"
	"github.com/dkeye/Mimic/internal/metrics"
	"github.com/dkeye/Mimic/internal/reconcile"
	"github.com/dkeye/Mimic/internal/render"
	"github.com/dkeye/Mimic/internal/session"
	"github.com/dkeye/Mimic/internal/transport"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())
	cc := cfg.Client

	members := membership.NewClient(cc.ServerURL, nil)
	roomID := domain.RoomID(cc.Session)
	if roomID == "" {
		room, err := members.CreateSession(ctx, "mimic")
		if err != nil {
			log.Fatal().Err(err).Msg("create session")
		}
		roomID = room.ID
		log.Info().Str("room", string(roomID)).Msg("created session")
	}
	ticket, err := members.JoinSession(ctx, roomID, cc.DisplayName)
	if err != nil {
		log.Fatal().Err(err).Str("room", string(roomID)).Msg("join session")
	}
	defer func() {
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer leaveCancel()
		if err := members.LeaveSession(leaveCtx, ticket.ParticipantID); err != nil {
			log.Warn().Err(err).Msg("leave session")
		}
	}()

	endpoint := transport.Endpoint{
		URL:         cc.ServerURL,
		Token:       ticket.Token,
		Session:     string(ticket.SessionID),
		Participant: ticket.ParticipantID,
	}
	var dialer transport.Dialer
	switch cc.Transport {
	case "mqtt":
		endpoint.URL = cc.Endpoint
		dialer = mqttclient.NewDialer()
	default:
		if cc.Endpoint != "" {
			endpoint.URL = cc.Endpoint
		}
		d, err := rtcclient.NewDialer(cfg.ICEServers)
		if err != nil {
			log.Fatal().Err(err).Msg("webrtc api")
		}
		dialer = d
	}

	clock := capture.NewFrameClock(cc.FrameRate)
	engines := capture.NewEngineHandle(inference.Factory(inference.Config{
		Command:       cc.Engine.Command,
		Args:          cc.Engine.Args,
		Model:         cc.Engine.Model,
		LoadTimeout:   cc.Engine.LoadTimeout,
		DetectTimeout: cc.Engine.DetectTimeout,
	}))
	defer engines.Close()

	rec := reconcile.New()
	var bc *broadcast.Broadcaster
	loop := capture.NewLoop(capture.Options{
		Engines: engines,
		Camera: gstdev.NewCamera(gstdev.CameraConfig{
			Device:    cc.Camera.Device,
			Width:     cc.Camera.Width,
			Height:    cc.Camera.Height,
			FrameRate: cc.FrameRate,
		}),
		Scheduler: clock,
		OnFace: func(fs domain.FaceState) {
			rec.ApplyLocal(fs)
			bc.OnFaceState(fs)
		},
	})

	ended := make(chan struct{}, 1)
	opts := session.Options{
		Dialer:         dialer,
		Endpoint:       endpoint,
		DisplayName:    cc.DisplayName,
		Reconciler:     rec,
		Capture:        loop,
		ConnectTimeout: cc.ConnectTimeout,
		OnStateChange: func(s session.State, err error) {
			ev := log.Info()
			if err != nil {
				ev = log.Warn().Err(err)
			}
			ev.Str("state", s.String()).Msg("session")
			if s == session.StateDisconnected || s == session.StateFailed {
				select {
				case ended <- struct{}{}:
				default:
				}
			}
		},
	}
	if cc.Audio.Enabled {
		opts.Audio = gstdev.OpenMicrophone("")
	}
	ctl := session.NewController(opts)
	bc = broadcast.New(ctl)

	driver := render.NewDriver(rec, render.NewLogRenderer(), clock)
	driver.Start()
	defer driver.Stop()
	go clock.Run(ctx)

	if cc.MetricsAddr != "" {
		m := metrics.NewClient("mimic_client", metrics.ClientSources{
			Capture: func() metrics.CaptureStats {
				st := loop.Stats()
				return metrics.CaptureStats{Ticks: st.Ticks, Duplicates: st.Duplicates, Inferences: st.Inferences, NoFace: st.NoFace, Errors: st.Errors, Emitted: st.Emitted}
			},
			Broadcast: func() metrics.BroadcastStats {
				st := bc.Stats()
				return metrics.BroadcastStats{Published: st.Published, Discarded: st.Discarded, Failed: st.Failed}
			},
			Reconcile: func() metrics.ReconcileStats {
				st := rec.Stats()
				return metrics.ReconcileStats{Applied: st.Applied, Undecodable: st.Undecodable, SelfEcho: st.SelfEcho, Departed: st.Departed, Participants: rec.Snapshot().Len()}
			},
			RenderTick: driver.Frames,
		})
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: cc.MetricsAddr, Handler: mux}
		go func() {
			log.Info().Str("addr", cc.MetricsAddr).Msg("client metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server")
			}
		}()
		defer srv.Close()
	}

	if err := ctl.Join(ctx); err != nil {
		log.Error().Err(err).Str("kind", domain.KindOf(err).String()).Msg("could not join; restart to retry")
		return
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("leaving")
	case <-ended:
		log.Warn().Msg("session ended")
	}
	ctl.Leave()
	log.Info().Msg("Client exited")
}
