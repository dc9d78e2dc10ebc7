// Command mixerd runs the CoinJoin Coordinator as a standalone daemon,
// wiring the collaborator contracts declared in package wallet,
// identity, safe, gui, and channel to the in-memory reference
// implementations this module ships, the same way cmd/kcn wires
// node.Config to a concrete node.Node.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/urfave/cli"

	"github.com/Kryndex/darkwallet/channel"
	"github.com/Kryndex/darkwallet/coordinator"
	"github.com/Kryndex/darkwallet/debugapi"
	"github.com/Kryndex/darkwallet/gui"
	"github.com/Kryndex/darkwallet/identity"
	"github.com/Kryndex/darkwallet/internal/config"
	"github.com/Kryndex/darkwallet/internal/log"
	"github.com/Kryndex/darkwallet/safe"
	"github.com/Kryndex/darkwallet/wallet"
)

var logger = log.NewModuleLogger("mixerd")

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "Path to a TOML configuration file",
	}
	fingerprintFlag = cli.StringFlag{
		Name:  "fingerprint",
		Usage: "This node's lobby channel fingerprint",
		Value: "local-node",
	}
	debugListenFlag = cli.StringFlag{
		Name:  "debug.addr",
		Usage: "Address for the read-only debug HTTP surface (overrides config)",
	}
	hardMixingFlag = cli.BoolFlag{
		Name:  "hard-mixing",
		Usage: "Retry indefinitely instead of falling back to an unmixed send (when given, overrides both the config default and identity settings)",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "mixerd"
	app.Usage = "peer-to-peer CoinJoin coordinator daemon"
	app.Flags = []cli.Flag{configFlag, fingerprintFlag, debugListenFlag, hardMixingFlag}
	app.Action = run
	sort.Sort(cli.FlagsByName(app.Flags))

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String(configFlag.Name))
	if err != nil {
		return fmt.Errorf("mixerd: load config: %w", err)
	}
	if addr := ctx.String(debugListenFlag.Name); addr != "" {
		cfg.DebugListenAddr = addr
	}

	w := wallet.NewMemWallet()
	store := identity.NewMemStore(w)
	sf := safe.NewMemSafe()
	bus := gui.NewMemBus()
	transport := channel.NewMemTransport(ctx.String(fingerprintFlag.Name))

	if ctx.IsSet(hardMixingFlag.Name) {
		store.SetHardMixing(ctx.Bool(hardMixingFlag.Name))
	} else {
		store.ApplyHardMixingDefault(cfg.HardMixingDefault)
	}

	co := coordinator.New(cfg, transport, w, store, sf, bus, nil)
	co.OnTransportEvent("connected")

	if cfg.DebugListenAddr != "" {
		handler := debugapi.Handler(co.Registry(), co.PendingTaskCount)
		go func() {
			logger.Info("debug surface listening", "addr", cfg.DebugListenAddr)
			if err := http.ListenAndServe(cfg.DebugListenAddr, handler); err != nil {
				logger.Error("debug surface stopped", "err", err)
			}
		}()
	}

	logger.Info("mixerd started", "channel", cfg.ChannelName(), "fingerprint", transport.Fingerprint())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("mixerd shutting down")
	if err := co.Stop(context.Background()); err != nil {
		return fmt.Errorf("mixerd: stop: %w", err)
	}
	return nil
}
