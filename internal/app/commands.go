package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/WendelHime/lanshare/internal/api"
	"github.com/WendelHime/lanshare/internal/discovery"
	"github.com/WendelHime/lanshare/internal/p2p"
	"github.com/WendelHime/lanshare/internal/progress"
	"github.com/WendelHime/lanshare/internal/registry"
	"github.com/WendelHime/lanshare/internal/shared/models"
	"github.com/WendelHime/lanshare/internal/tracker"
	"github.com/WendelHime/lanshare/internal/transfer"
)

func (a *App) serveCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "announce this machine and receive transfers until interrupted",
		Action:  a.serve,
	}
}

func (a *App) sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "send a file or directory to a peer",
		ArgsUsage: "PATH",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "to",
				Usage: "receiver `HOST[:PORT]`",
			},
			&cli.StringFlag{
				Name:  "peer",
				Usage: "discover peers and send to the one called `NAME`",
			},
			&cli.IntFlag{
				Name:  "connections",
				Usage: "number of parallel connections (defaults to transfer.connections)",
			},
			&cli.DurationFlag{
				Name:  "wait",
				Value: 5 * time.Second,
				Usage: "how long to listen for peers when --peer is used",
			},
			fromFlag(),
		},
		Action: a.send,
	}
}

func (a *App) peersCommand() *cli.Command {
	return &cli.Command{
		Name:    "peers",
		Aliases: []string{"p"},
		Usage:   "listen for announcements and list the peers seen",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "wait",
				Value: 5 * time.Second,
				Usage: "how long to listen",
			},
			fromFlag(),
		},
		Action: a.peers,
	}
}

func (a *App) statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "list the transfers a running node is tracking",
		Flags:  []cli.Flag{fromFlag()},
		Action: a.status,
	}
}

func fromFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "from",
		Usage:   "ask the status api at `URL` of a running node instead of listening locally",
		EnvVars: []string{"LANSHARE_STATUS_URL"},
	}
}

func (a *App) serve(cCtx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New()
	disc := discovery.New(discovery.ConfigFrom(a.cfg), reg, a.log)
	recv := transfer.NewReceiver(a.cfg.Transfer, a.log, transfer.OnComplete(func(status transfer.TransferStatus, err error) {
		if err != nil {
			fmt.Fprintf(cCtx.App.ErrWriter, "failed to extract %s: %v\n", status.FileName, err)
			return
		}
		fmt.Fprintf(cCtx.App.Writer, "received %s (%d bytes)\n", status.FileName, status.TotalSize)
	}))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return disc.Run(ctx) })
	g.Go(func() error { return recv.ListenAndServe(ctx) })
	if a.cfg.HTTPAddr != "" {
		srv := api.New(api.RegisterRoutes(reg, recv, a.log), a.log, api.Addr(a.cfg.HTTPAddr))
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return srv.Shutdown()
			case err := <-srv.Notify():
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		})
	}
	return g.Wait()
}

func (a *App) send(cCtx *cli.Context) error {
	source := cCtx.Args().First()
	if source == "" {
		return cli.Exit("send needs a PATH", 2)
	}

	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		peer models.Addr
		err  error
	)
	switch {
	case cCtx.String("to") != "":
		peer, err = resolvePeer(cCtx.String("to"), a.cfg.Transfer.Port)
	case cCtx.String("peer") != "":
		peer, err = a.findPeer(ctx, cCtx.String("peer"), cCtx.String("from"), cCtx.Duration("wait"))
	default:
		return cli.Exit("send needs --to or --peer", 2)
	}
	if err != nil {
		return err
	}

	sender := transfer.NewSender(a.cfg.Transfer,
		p2p.NewFactory(a.cfg.Transfer.DialTimeout, a.cfg.Transfer.BufferSize),
		a.log,
		transfer.WithSendProgress(progress.Bar("sending")))

	res, err := sender.Send(ctx, peer, source, cCtx.Int("connections"))
	if err != nil {
		if failed := transfer.FailedRanges(err); len(failed) > 0 {
			return cli.Exit(fmt.Sprintf("%d of %d ranges failed, artifact kept at %s: %v", len(failed), len(res.Ranges), res.Artifact, err), 1)
		}
		return err
	}
	fmt.Fprintf(cCtx.App.Writer, "\nsent %s to %s (%d bytes over %d connections)\n", source, peer, res.TotalSize, len(res.Ranges))
	return nil
}

func (a *App) peers(cCtx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	peers, err := a.lookupPeers(ctx, cCtx.String("from"), cCtx.Duration("wait"))
	if err != nil {
		return err
	}

	if len(peers) == 0 {
		fmt.Fprintln(cCtx.App.Writer, "no peers found")
		return nil
	}
	w := tabwriter.NewWriter(cCtx.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tADDRESS\tLAST SEEN")
	for i, p := range peers {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, p.Name, p.Addr(), p.LastSeen.Format(time.TimeOnly))
	}
	return w.Flush()
}

func (a *App) status(cCtx *cli.Context) error {
	from := cCtx.String("from")
	if from == "" {
		from = localStatusURL(a.cfg.HTTPAddr)
	}
	if from == "" {
		return cli.Exit("status needs --from or http_addr in the configuration", 2)
	}

	transfers, err := tracker.NewTracker(from).GetTransfers(cCtx.Context)
	if err != nil {
		return err
	}
	if len(transfers) == 0 {
		fmt.Fprintln(cCtx.App.Writer, "no transfers")
		return nil
	}
	w := tabwriter.NewWriter(cCtx.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILE\tSTATE\tRANGES\tSIZE")
	for _, t := range transfers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\n", t.TransferID, t.FileName, t.State, t.Received, t.Expected, t.TotalSize)
	}
	return w.Flush()
}

// lookupPeers asks a running node when from is set, and otherwise runs the
// discovery service for wait and returns what it saw.
func (a *App) lookupPeers(ctx context.Context, from string, wait time.Duration) ([]models.Peer, error) {
	if from != "" {
		return tracker.NewTracker(from).GetPeers(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	reg := registry.New()
	if err := discovery.New(discovery.ConfigFrom(a.cfg), reg, a.log).Run(ctx); err != nil {
		return nil, err
	}
	return reg.Snapshot(), nil
}

func (a *App) findPeer(ctx context.Context, name, from string, wait time.Duration) (models.Addr, error) {
	peers, err := a.lookupPeers(ctx, from, wait)
	if err != nil {
		return models.Addr{}, err
	}
	for _, p := range peers {
		if p.Name == name || p.Address == name {
			return p.Addr(), nil
		}
	}
	return models.Addr{}, cli.Exit(fmt.Sprintf("no peer called %q seen within %s", name, wait), 1)
}

// resolvePeer accepts host or host:port, resolving host names.
func resolvePeer(target string, defaultPort int) (models.Addr, error) {
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, strconv.Itoa(defaultPort))
	}
	if addr, err := models.ParseAddr(target); err == nil {
		return addr, nil
	}
	tcp, err := net.ResolveTCPAddr("tcp4", target)
	if err != nil {
		return models.Addr{}, fmt.Errorf("resolve %s: %w", target, err)
	}
	return models.Addr{IP: tcp.IP, Port: uint16(tcp.Port)}, nil
}

// localStatusURL turns a listen address such as ":8080" into a URL on this
// machine.
func localStatusURL(httpAddr string) string {
	if httpAddr == "" {
		return ""
	}
	host, port, err := net.SplitHostPort(httpAddr)
	if err != nil {
		return ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
