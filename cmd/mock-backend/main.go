package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func main() {
	addr := flag.String("addr", "localhost:13000", "HTTP service address")
	path := flag.String("path", "/speech-recognition", "Websocket endpoint path")
	wordsPerSecond := flag.Float64("words-per-second", 2.5, "Synthetic speech rate")
	blobDuration := flag.Duration("blob-duration", 2*time.Second, "Assumed media length of non-WAV blobs")
	latency := flag.Duration("latency", 200*time.Millisecond, "Simulated recognition time per blob")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	backend := &backend{
		logger:  logger,
		synth:   newSynthesizer(*wordsPerSecond, *blobDuration, time.Now().UnixNano()),
		latency: *latency,
	}

	router := mux.NewRouter()
	router.HandleFunc(*path, backend.handleWebSocket)

	srv := &http.Server{Addr: *addr, Handler: router}

	go func() {
		logger.Info("Mock transcription backend listening",
			slog.String("address", *addr),
			slog.String("path", *path),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

type backend struct {
	logger  *slog.Logger
	synth   *synthesizer
	latency time.Duration
}

func (b *backend) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error("Failed to upgrade connection", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	b.logger.Info("Client connected",
		slog.String("remote", r.RemoteAddr),
		slog.String("content_type", r.Header.Get("Content-Type")),
	)

	for {
		_, blob, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Warn("Read failed", slog.String("error", err.Error()))
			}
			return
		}

		time.Sleep(b.latency)

		reply := b.synth.respond(blob)
		if err := conn.WriteJSON(reply); err != nil {
			b.logger.Warn("Write failed", slog.String("error", err.Error()))
			return
		}

		b.logger.Info("Transcribed blob", slog.Int("bytes", len(blob)))
	}
}
