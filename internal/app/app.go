package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/WendelHime/lanshare/internal/config"
)

// App holds what every command needs once flags have been parsed.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	logFile io.Closer
}

func New() *cli.App {
	a := &App{}
	return &cli.App{
		Name:  "lanshare",
		Usage: "discover machines on the local network and send them files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE` (toml or yaml)",
				EnvVars: []string{"LANSHARE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "write JSON logs to `FILE` instead of stderr",
			},
		},
		Before: a.setup,
		After:  a.teardown,
		Commands: []*cli.Command{
			a.serveCommand(),
			a.sendCommand(),
			a.peersCommand(),
			a.statusCommand(),
		},
	}
}

func (a *App) setup(cCtx *cli.Context) error {
	cfg, err := config.Load(cCtx.String("config"))
	if err != nil {
		return err
	}
	a.cfg = cfg

	var out io.Writer = os.Stderr
	if path := cCtx.String("log-file"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.logFile = f
		out = f
	}
	a.log = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.Level()}))
	return nil
}

func (a *App) teardown(*cli.Context) error {
	if a.logFile != nil {
		return a.logFile.Close()
	}
	return nil
}
