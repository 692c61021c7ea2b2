package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/interview-voice-lab/internal/audio"
	"github.com/interview-voice-lab/internal/config"
	"github.com/interview-voice-lab/internal/live"
	"github.com/interview-voice-lab/internal/logging"
	"github.com/interview-voice-lab/internal/metrics"
	"github.com/interview-voice-lab/internal/session"
	"github.com/interview-voice-lab/llm"
)

func main() {
	topic := flag.String("topic", "System Design", "interview topic")
	levelName := flag.String("level", "junior", "candidate level: eli5, junior, senior, principal")
	micSource := flag.String("mic", "device", "microphone source: device, or opus for length-prefixed Opus packets on stdin")
	envFile := flag.String("env", "", "dotenv file to read instead of ./.env")
	mcpURL := flag.String("mcp-url", "", "content server websocket URL that prepares the opening question, e.g. ws://localhost:9000/mcp/ws")
	flag.Parse()

	logging.Init("")
	defer func() { _ = logging.Sync() }()

	cfg, err := loadConfig(*envFile)
	if err != nil {
		logging.FatalExitf("config load failed", "error", err)
	}
	logging.SetLevel(cfg.LogLevel)
	logging.Infow("config loaded", cfg.LogFields()...)

	level, ok := llm.ParseLevel(*levelName)
	if !ok {
		logging.FatalExitf("unknown level", "level", *levelName)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mic, speaker, err := openDevices(ctx, *micSource)
	if err != nil {
		logging.FatalExitf("audio devices unavailable", "error", err, "mic", *micSource)
	}

	sessionMetrics := metrics.NewSession()
	mgr := session.NewManager(session.Options{
		Dialer:     &live.WebSocketDialer{URL: cfg.LiveURL, APIKey: cfg.APIKey},
		Microphone: mic,
		Speaker:    speaker,
		Metrics:    sessionMetrics,
		QueueSize:  cfg.SendQueueSize,
	})

	instruction := systemInstruction(ctx, *mcpURL, *topic, level)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, sessionMetrics.Handler()) })
	}

	updates, unsubscribe := mgr.Subscribe()
	defer unsubscribe()
	g.Go(func() error {
		p := newPrinter(os.Stderr)
		for {
			select {
			case s, ok := <-updates:
				if !ok {
					return nil
				}
				if err := p.render(s); err != nil {
					return err
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		err := mgr.Connect(gctx, session.Config{
			Model:             cfg.LiveModel,
			SystemInstruction: instruction,
			VoiceName:         cfg.LiveVoice,
		})
		if err != nil {
			return err
		}
		logging.Infow("interview started", "topic", *topic, "level", level, "session_id", mgr.State().SessionID)
		<-gctx.Done()
		mgr.Disconnect()
		return nil
	})

	err = g.Wait()
	mgr.Disconnect()
	logging.Infow("interview finished", finishFields(mgr.Stats(), mic)...)
	if err != nil && !errors.Is(err, errSessionEnded) {
		logging.FatalExitf("interview failed", "error", err)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func openDevices(ctx context.Context, source string) (audio.Microphone, audio.Speaker, error) {
	speaker, err := audio.NewDefaultSpeaker()
	if err != nil {
		return nil, nil, err
	}
	switch source {
	case "device":
		mic, err := audio.NewDefaultMicrophone()
		return mic, speaker, err
	case "opus":
		mic, err := audio.NewOpusMicrophone(audio.ReadPackets(ctx, os.Stdin))
		return mic, speaker, err
	default:
		return nil, nil, fmt.Errorf("unknown mic source %q", source)
	}
}

func serveMetrics(ctx context.Context, addr string, h http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logging.Infow("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
