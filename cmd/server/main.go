// Command server runs the transaction intake node: accepts submitted
// transactions and mined blocks over HTTP, and listens on the gossip bus
// for blocks mined elsewhere. Its CLI shape follows
// bingoer-srcd/cmd/runcore/main.go's cli.v1 app structure.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/arthurBricq/minimal-blockchain/chain"
	"github.com/arthurBricq/minimal-blockchain/config"
	"github.com/arthurBricq/minimal-blockchain/gossip"
	"github.com/arthurBricq/minimal-blockchain/logging"
	"github.com/arthurBricq/minimal-blockchain/txserver"
)

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	addrFlag = cli.StringFlag{
		Name:  "addr",
		Usage: "HTTP bind address",
	}
	difficultyFlag = cli.UintFlag{
		Name:  "difficulty",
		Usage: "required leading zero hex digits for a well-formed block",
	}
	logLevelFlag = cli.StringFlag{
		Name:  "loglevel",
		Usage: "log level: crit, error, warn, info, debug, trace",
	}
)

var app = cli.NewApp()

func init() {
	app.Name = "server"
	app.Usage = "run the transaction intake server"
	app.Action = run
	app.Flags = []cli.Flag{
		configFileFlag,
		addrFlag,
		difficultyFlag,
		logLevelFlag,
	}
}

func loadConfig(ctx *cli.Context) config.Config {
	cfg := config.Default()
	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		loaded, err := config.Load(file)
		if err != nil {
			logging.Crit("failed to load config file", "file", file, "err", err)
		}
		cfg = loaded
	}
	if ctx.GlobalIsSet(addrFlag.Name) {
		cfg.ServerAddr = ctx.GlobalString(addrFlag.Name)
	}
	if ctx.GlobalIsSet(difficultyFlag.Name) {
		cfg.Difficulty = ctx.GlobalUint(difficultyFlag.Name)
	}
	if ctx.GlobalIsSet(logLevelFlag.Name) {
		cfg.LogLevel = ctx.GlobalString(logLevelFlag.Name)
	}
	return cfg
}

func run(ctx *cli.Context) error {
	cfg := loadConfig(ctx)

	lvl, err := logging.LvlFromString(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	logging.SetLevel(lvl)

	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bus, err := gossip.New(runCtx, cfg.ListenTCP, cfg.ListenQUIC)
	if err != nil {
		// Fatal: I/O failure binding the gossip listener.
		return fmt.Errorf("starting gossip bus: %w", err)
	}
	defer bus.Close()

	s := txserver.New(cfg.ServerAddr, cfg.Difficulty)
	go listenGossip(runCtx, bus, s)

	logging.Info("server starting", "addr", cfg.ServerAddr)
	// Binding failure on the HTTP port is fatal.
	return s.ListenAndServe(runCtx)
}

func listenGossip(ctx context.Context, bus *gossip.Bus, s *txserver.Server) {
	inbound := bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-inbound:
			if !ok {
				return
			}
			b, err := chain.Decode(data)
			if err != nil {
				logging.Warn("dropping malformed gossip block", "err", err)
				continue
			}
			s.IngestBlock(b)
		}
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
