package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/interview-voice-lab/internal/audio"
	"github.com/interview-voice-lab/internal/config"
	"github.com/interview-voice-lab/internal/logging"
	"github.com/interview-voice-lab/internal/mcp"
	"github.com/interview-voice-lab/llm"
)

func main() {
	stdio := flag.Bool("stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	flag.Parse()

	if *stdio {
		// stdout carries JSON-RPC
		logging.InitTo("", "stderr")
	} else {
		logging.Init("")
	}
	defer func() { _ = logging.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logging.FatalExitf("config load failed", "error", err)
	}
	logging.SetLevel(cfg.LogLevel)
	logging.Infow("config loaded", cfg.LogFields()...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if cfg.SaveAudioDir != "" {
		if err := os.MkdirAll(cfg.SaveAudioDir, 0o755); err != nil {
			logging.FatalExitf("audio dir unavailable", "dir", cfg.SaveAudioDir, "error", err)
		}
		wg.Add(1)
		audio.StartCleaner(ctx, &wg, cfg.SaveAudioDir, cfg.SaveAudioRetention, time.Hour, cfg.SaveAudioMaxFiles)
	}

	server := mcp.NewServer(llm.NewClient(cfg), mcp.ServerOptions{
		SaveDir:     cfg.SaveAudioDir,
		SpeechModel: cfg.TTSModel,
	})

	if *stdio {
		if err := server.Run(ctx, &sdk.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			logging.Errorw("mcp stdio session ended", "error", err)
		}
		stop()
		wg.Wait()
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/mcp/ws", mcp.WebSocketHandler(server))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Infow("mcp server listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.FatalExitf("mcp server failed", "error", err)
	}
	wg.Wait()
	logging.Infow("shutdown complete")
}
