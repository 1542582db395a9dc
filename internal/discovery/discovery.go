// Package discovery announces this host on the local network and records
// the announcements of other hosts in a peer registry.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"

	"github.com/WendelHime/lanshare/internal/config"
	"github.com/WendelHime/lanshare/internal/decoder"
	"github.com/WendelHime/lanshare/internal/registry"
	"github.com/WendelHime/lanshare/internal/shared/models"
)

const maxDatagramSize = 2048

type Config struct {
	Port             int
	TransferPort     int
	HostName         string
	BroadcastAddr    string
	MulticastGroup   string
	Interface        string
	AnnounceInterval time.Duration
	PruneInterval    time.Duration
	PeerTimeout      time.Duration
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Port:             cfg.Discovery.Port,
		TransferPort:     cfg.Transfer.Port,
		HostName:         cfg.Discovery.HostName,
		BroadcastAddr:    cfg.Discovery.BroadcastAddr,
		MulticastGroup:   cfg.Discovery.MulticastGroup,
		Interface:        cfg.Discovery.Interface,
		AnnounceInterval: cfg.Discovery.AnnounceInterval,
		PruneInterval:    cfg.Discovery.PruneInterval,
		PeerTimeout:      cfg.Discovery.PeerTimeout,
	}
}

type Service struct {
	cfg      Config
	registry *registry.Registry
	log      *slog.Logger
	local    map[string]struct{}
}

func New(cfg Config, reg *registry.Registry, logger *slog.Logger) *Service {
	return &Service{cfg: cfg, registry: reg, log: logger, local: make(map[string]struct{})}
}

// Run binds the discovery sockets and runs the announce, listen and prune
// loops until ctx is cancelled. Socket setup failures are returned before
// any loop starts; per-datagram failures are logged and dropped.
func (s *Service) Run(ctx context.Context) error {
	listener, err := net.ListenUDP("udp4", &net.UDPAddr{Port: s.cfg.Port})
	if err != nil {
		return fmt.Errorf("bind discovery port %d: %w", s.cfg.Port, err)
	}
	sender, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		listener.Close()
		return fmt.Errorf("open announce socket: %w", err)
	}

	target, iface, err := s.target()
	if err != nil {
		listener.Close()
		sender.Close()
		return err
	}

	pc := ipv4.NewPacketConn(listener)
	if target.IP.IsMulticast() {
		if err := pc.JoinGroup(iface, &net.UDPAddr{IP: target.IP}); err != nil {
			listener.Close()
			sender.Close()
			return fmt.Errorf("join multicast group %s: %w", target.IP, err)
		}
		out := ipv4.NewPacketConn(sender)
		if iface != nil {
			_ = out.SetMulticastInterface(iface)
		}
		_ = out.SetMulticastTTL(1)
	}
	s.local = localAddresses()

	s.log.Info("discovery started",
		slog.Int("port", s.cfg.Port),
		slog.String("target", target.String()),
		slog.String("host", s.cfg.HostName))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		listener.Close()
		sender.Close()
		return nil
	})
	g.Go(func() error { return s.announceLoop(ctx, sender, target) })
	g.Go(func() error { return s.listenLoop(ctx, pc) })
	g.Go(func() error { return s.pruneLoop(ctx) })

	return g.Wait()
}

func (s *Service) announceLoop(ctx context.Context, conn *net.UDPConn, target *net.UDPAddr) error {
	payload, err := decoder.EncodeAnnouncement(models.Announcement{Port: s.cfg.TransferPort, Host: s.cfg.HostName})
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.AnnounceInterval)
	defer ticker.Stop()
	for {
		if _, err := conn.WriteToUDP(payload, target); err != nil && ctx.Err() == nil {
			s.log.Debug("announce failed", slog.String("target", target.String()), slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Service) listenLoop(ctx context.Context, pc *ipv4.PacketConn) error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, _, src, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read discovery datagram: %w", err)
		}
		udp, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}
		s.handleDatagram(udp.IP, buf[:n])
	}
}

func (s *Service) pruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if removed := s.registry.Prune(now, s.cfg.PeerTimeout); removed > 0 {
				s.log.Debug("pruned peers", slog.Int("removed", removed))
			}
		}
	}
}

// handleDatagram registers the sender of data unless it is this host or the
// payload cannot be parsed. It reports whether the registry was updated.
func (s *Service) handleDatagram(src net.IP, data []byte) bool {
	if src == nil || src.IsLoopback() {
		return false
	}
	if _, self := s.local[src.String()]; self {
		return false
	}

	a, err := decoder.DecodeAnnouncement(data)
	if err != nil {
		s.log.Debug("dropping datagram", slog.String("from", src.String()), slog.Any("error", err))
		return false
	}

	s.registry.Upsert(src.String(), a.Port, a.Host)
	return true
}

// target resolves where announcements are sent: the multicast group when
// configured, else the configured broadcast address, else the directed
// broadcast address of the chosen interface.
func (s *Service) target() (*net.UDPAddr, *net.Interface, error) {
	iface, ipnet := pickInterface(s.cfg.Interface)

	if s.cfg.MulticastGroup != "" {
		ip := net.ParseIP(s.cfg.MulticastGroup).To4()
		if ip == nil || !ip.IsMulticast() {
			return nil, nil, fmt.Errorf("invalid multicast group %q", s.cfg.MulticastGroup)
		}
		return &net.UDPAddr{IP: ip, Port: s.cfg.Port}, iface, nil
	}

	if s.cfg.BroadcastAddr != "" {
		ip := net.ParseIP(s.cfg.BroadcastAddr).To4()
		if ip == nil {
			return nil, nil, fmt.Errorf("invalid broadcast address %q", s.cfg.BroadcastAddr)
		}
		return &net.UDPAddr{IP: ip, Port: s.cfg.Port}, iface, nil
	}

	if ipnet != nil {
		return &net.UDPAddr{IP: broadcastOf(ipnet), Port: s.cfg.Port}, iface, nil
	}
	return &net.UDPAddr{IP: net.IPv4bcast, Port: s.cfg.Port}, iface, nil
}
