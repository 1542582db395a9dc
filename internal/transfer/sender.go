package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/WendelHime/lanshare/internal/archive"
	"github.com/WendelHime/lanshare/internal/compression"
	"github.com/WendelHime/lanshare/internal/config"
	"github.com/WendelHime/lanshare/internal/p2p"
	"github.com/WendelHime/lanshare/internal/progress"
	"github.com/WendelHime/lanshare/internal/shared/models"
)

type Sender interface {
	// Send packs and compresses source, then streams the artifact to peer
	// over one connection per non-empty range.
	Send(ctx context.Context, peer models.Addr, source string, connections int) (Result, error)
	// Dispatch streams the given ranges of an already prepared artifact.
	// It is what a caller uses to retry the ranges a failed Send reports.
	// The artifact is removed once every given range has been delivered.
	Dispatch(ctx context.Context, peer models.Addr, res Result, ranges []Range) error
}

// Result describes the artifact of one send. When Send fails the artifact
// is left on disk at Artifact until a Dispatch of the failed ranges succeeds.
type Result struct {
	TransferID  models.TransferID
	Artifact    string
	FileName    string
	TotalSize   int64
	Connections int
	Ranges      []Range
}

// RangeError is the failure of a single range.
type RangeError struct {
	Range Range
	Err   error
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range [%d,%d): %v", e.Range.Start, e.Range.End(), e.Err)
}

func (e *RangeError) Unwrap() error {
	return e.Err
}

// FailedRanges lists the ranges named by the RangeErrors combined in err.
func FailedRanges(err error) []Range {
	var out []Range
	for _, e := range multierr.Errors(err) {
		var re *RangeError
		if errors.As(e, &re) {
			out = append(out, re.Range)
		}
	}
	return out
}

type sender struct {
	cfg        config.Transfer
	newClient  p2p.Factory
	log        *slog.Logger
	onProgress progress.Func
}

type SenderOption func(*sender)

// WithSendProgress reports aggregate bytes streamed across all ranges.
func WithSendProgress(fn progress.Func) SenderOption {
	return func(s *sender) {
		s.onProgress = fn
	}
}

func NewSender(cfg config.Transfer, newClient p2p.Factory, logger *slog.Logger, opts ...SenderOption) Sender {
	s := &sender{cfg: cfg, newClient: newClient, log: logger, onProgress: progress.Nop}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *sender) Send(ctx context.Context, peer models.Addr, source string, connections int) (Result, error) {
	if connections < 1 {
		connections = s.cfg.Connections
	}

	res, err := s.prepare(source, connections)
	if err != nil {
		return Result{}, err
	}
	log := s.log.With(slog.String("file_id", string(res.TransferID)), slog.String("peer", peer.String()))
	log.Info("sending", slog.Int64("total_size", res.TotalSize), slog.Int("ranges", len(res.Ranges)))

	if err := s.Dispatch(ctx, peer, res, res.Ranges); err != nil {
		log.Warn("send incomplete", slog.Int("failed_ranges", len(FailedRanges(err))), slog.String("artifact", res.Artifact))
		return res, err
	}
	log.Info("sent")
	return res, nil
}

// prepare packs and compresses source. Intermediate files are removed on
// every failure path.
func (s *sender) prepare(source string, connections int) (res Result, err error) {
	s.log.Info("packing", slog.String("source", source))
	tarPath, err := archive.Pack(source, s.cfg.WorkDir)
	if err != nil {
		return Result{}, err
	}

	s.log.Info("compressing", slog.String("archive", tarPath))
	artifact, err := compression.Compress(tarPath, progress.Nop)
	if err != nil {
		os.Remove(tarPath)
		return Result{}, err
	}
	defer func() {
		if err != nil {
			os.Remove(artifact)
		}
	}()

	info, err := os.Stat(artifact)
	if err != nil {
		return Result{}, err
	}
	plan, err := NewChunkPlan(info.Size(), connections)
	if err != nil {
		return Result{}, err
	}

	return Result{
		TransferID:  models.NewTransferID(),
		Artifact:    artifact,
		FileName:    filepath.Base(artifact),
		TotalSize:   info.Size(),
		Connections: connections,
		Ranges:      plan.Dispatchable(),
	}, nil
}

func (s *sender) Dispatch(ctx context.Context, peer models.Addr, res Result, ranges []Range) error {
	f, err := os.Open(res.Artifact)
	if err != nil {
		return err
	}
	defer f.Close()

	var total int64
	for _, r := range ranges {
		total += r.Length
	}
	counter := progress.NewCounter(total, s.onProgress)

	limit := res.Connections
	if limit < 1 {
		limit = len(ranges)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	g.SetLimit(max(limit, 1))
	for _, r := range ranges {
		r := r
		g.Go(func() error {
			err := s.sendRange(ctx, peer, res, r, f, counter)
			if err != nil {
				s.log.Warn("range failed",
					slog.String("file_id", string(res.TransferID)),
					slog.Int64("chunk_start", r.Start),
					slog.Int64("chunk_size", r.Length),
					slog.Any("error", err))
				mu.Lock()
				multierr.AppendInto(&errs, &RangeError{Range: r, Err: err})
				mu.Unlock()
			}
			// siblings keep going whatever happens to this range
			return nil
		})
	}
	_ = g.Wait()
	if errs != nil {
		return errs
	}

	f.Close()
	if err := os.Remove(res.Artifact); err != nil {
		s.log.Warn("failed to remove artifact", slog.String("artifact", res.Artifact), slog.Any("error", err))
	}
	return nil
}

func (s *sender) sendRange(ctx context.Context, peer models.Addr, res Result, r Range, artifact io.ReaderAt, counter *progress.Counter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	client := s.newClient()
	if err := client.Connect(ctx, peer); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Disconnect()

	hdr := models.RangeDescriptor{
		TransferID: res.TransferID,
		FileName:   res.FileName,
		TotalSize:  res.TotalSize,
		Start:      r.Start,
		Length:     r.Length,
		Count:      len(res.Ranges),
	}
	body := io.TeeReader(io.NewSectionReader(artifact, r.Start, r.Length), counter.Writer())
	_, err := client.SendRange(hdr, body)
	return err
}
