// Command worker runs a single mining node: it polls a transaction
// server for pending work, mines candidate blocks, and gossips and
// pushes whatever it finds. Its CLI shape follows
// bingoer-srcd/cmd/runcore/main.go's cli.v1 app structure.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/arthurBricq/minimal-blockchain/config"
	"github.com/arthurBricq/minimal-blockchain/gossip"
	"github.com/arthurBricq/minimal-blockchain/logging"
	"github.com/arthurBricq/minimal-blockchain/mining"
	"github.com/arthurBricq/minimal-blockchain/txclient"
	"github.com/arthurBricq/minimal-blockchain/chain"
)

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	serverURLFlag = cli.StringFlag{
		Name:  "server",
		Usage: "base URL of the transaction intake server",
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
	app.Name = "worker"
	app.Usage = "mine blocks for the minimal blockchain"
	app.Action = run
	app.Flags = []cli.Flag{
		configFileFlag,
		serverURLFlag,
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
	if ctx.GlobalIsSet(serverURLFlag.Name) {
		cfg.ServerURL = ctx.GlobalString(serverURLFlag.Name)
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

	client := txclient.New(cfg.ServerURL)
	c := chain.New()

	w := mining.NewWorker(c, client, bus, client, cfg.Difficulty)

	logging.Info("worker starting", "server", cfg.ServerURL, "difficulty", cfg.Difficulty)
	w.Run(runCtx)
	return nil
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
