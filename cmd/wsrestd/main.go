// Command wsrestd runs a standalone wsrest server: an HTTP listener that
// upgrades incoming requests to WebSocket connections carrying either
// the synopsejson or synopsebinary REST envelope sub-protocol. It does
// not register the Chat sub-protocol.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/coregx/wsrest/websocket"
)

func main() {
	cmd := &cli.Command{
		Name:  "wsrestd",
		Usage: "WebSocket server engine carrying a bidirectional REST envelope protocol",
		Flags: flags(),
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "wsrestd: %v\n", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "port",
			Value: 8080,
			Usage: "TCP port to listen on",
		},
		&cli.StringFlag{
			Name:  "encryption-key",
			Usage: "synopsebinary AES-CFB encryption key (empty disables encryption)",
		},
		&cli.StringFlag{
			Name:  "encryption-iv",
			Usage: "synopsebinary AES-CFB encryption IV (empty disables encryption)",
		},
		&cli.BoolFlag{
			Name:  "disable-json",
			Usage: "do not register the synopsejson sub-protocol",
		},
		&cli.BoolFlag{
			Name:  "disable-compression",
			Value: false,
			Usage: "disable synopsebinary payload compression",
		},
		&cli.IntFlag{
			Name:  "callback-acquire-timeout-ms",
			Value: 5000,
			Usage: "milliseconds Server.Callback waits to acquire a connection",
		},
		&cli.IntFlag{
			Name:  "callback-answer-timeout-ms",
			Value: 1000,
			Usage: "milliseconds Server.Callback waits for the client's answer",
		},
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
		},
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	log := newLogger(cmd.Bool("pretty-log"))

	cfg := websocket.Config{
		Port:                     int(cmd.Int("port")),
		EncryptionKey:            cmd.String("encryption-key"),
		EncryptionIV:             cmd.String("encryption-iv"),
		EnableJSON:               !cmd.Bool("disable-json"),
		CallbackAcquireTimeoutMS: int(cmd.Int("callback-acquire-timeout-ms")),
		CallbackAnswerTimeoutMS:  int(cmd.Int("callback-answer-timeout-ms")),
		Compressed:               !cmd.Bool("disable-compression"),
	}

	registry := websocket.NewProtocolRegistry()
	if cfg.EnableJSON {
		registry.Add(websocket.NewJSONProtocol(echoHandler))
	}
	registry.Add(websocket.NewBinaryProtocol(echoHandler, cfg.Compressed, cfg.EncryptionKey, cfg.EncryptionIV))

	srv := websocket.NewServer(registry, cfg, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := srv.Upgrade(w, r)
		if err != nil {
			log.Warn().Err(err).Msg("upgrade failed")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		go srv.Serve(ctx, conn)
	})

	addr := ":" + strconv.Itoa(cfg.Port)
	log.Info().Str("addr", addr).Msg("listening")
	return http.ListenAndServe(addr, mux)
}

// echoHandler is the default RestHandler: it reflects the request back
// as the response body, useful for smoke-testing a deployment before a
// real handler is wired in.
func echoHandler(_ context.Context, req *websocket.RestRequest) (*websocket.RestResponse, error) {
	return &websocket.RestResponse{
		Status:      200,
		ContentType: req.ContentType,
		Content:     req.Content,
	}, nil
}

func newLogger(pretty bool) zerolog.Logger {
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
