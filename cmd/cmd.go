package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/webitel/action-gateway/config"
)

const (
	ServiceName      = "action-gateway"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Multi-transport action server with cluster RPC",
		Version: version,
		Commands: []*cli.Command{
			serverCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:      "server",
		Aliases:   []string{"s"},
		Usage:     "Run the web, websocket and socket servers",
		ArgsUsage: "[-- --key=value ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config_file",
				Usage:   "Path to the configuration file",
				EnvVars: []string{config.EnvPrefix + "_CONFIG_FILE"},
			},
		},
		Action: func(c *cli.Context) error {
			// [OVERRIDES] everything after `--` is parsed as config flags
			cfg, err := config.LoadConfig(c.String("config_file"), c.Args().Slice())
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("SHUTTING_DOWN", "server_id", cfg.ServerID)
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.General.DrainTimeout+5*time.Second)
			defer cancel()
			return app.Stop(stopCtx)
		},
	}
}
