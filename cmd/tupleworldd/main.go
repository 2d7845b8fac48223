// Command tupleworldd runs the tupleworld daemon: TupleBox storage,
// WorldState schema layer, the bytecode VM, the task scheduler, and the
// RPC broker, wired together and served until interrupted.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tupleworld/builtins"
	"tupleworld/config"
	"tupleworld/rpc"
	"tupleworld/scheduler"
	"tupleworld/tuplebox"
	"tupleworld/vm"
	"tupleworld/worldstate"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	configPath := flag.String("config", "", "YAML config file (optional)")
	flag.Parse()
	cfg, err := config.Load(*configPath, flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	box, err := tuplebox.New(tuplebox.Options{Log: log, WALDir: cfg.EventsDB, MaxCommitRetries: 5})
	if err != nil {
		log.Fatal().Err(err).Msg("opening tuplebox")
	}
	world := worldstate.New(box)

	builtinRegistry := vm.NewRegistry()
	builtins.Register(builtinRegistry)

	sched := scheduler.New(world, builtinRegistry, nil, cfg.Workers)
	defer sched.Stop()

	secretHex, err := readKeyHex(cfg.PrivateKeyPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.PrivateKeyPath).Msg("reading private key")
	}
	publicHex, err := readKeyHex(cfg.PublicKeyPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.PublicKeyPath).Msg("reading public key")
	}
	tokens, err := rpc.NewTokenAuthority(secretHex, publicHex)
	if err != nil {
		log.Fatal().Err(err).Msg("building token authority")
	}

	broker := rpc.NewBroker(log, tokens, world, sched)
	sched.SetPublisher(broker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := broker.Listen(ctx, cfg.RPCServer, cfg.NarrativeServer); err != nil {
		log.Fatal().Err(err).Msg("starting RPC broker")
	}
	defer broker.Close()

	metricsServer := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server")
		}
	}()
	defer metricsServer.Close()

	log.Info().
		Str("rpc", cfg.RPCServer).
		Str("narrative", cfg.NarrativeServer).
		Str("metrics", cfg.MetricsAddress).
		Int("workers", cfg.Workers).
		Msg("tupleworldd listening")

	<-ctx.Done()
	log.Info().Msg("shutting down")
}

func readKeyHex(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
