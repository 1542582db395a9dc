package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/WendelHime/lanshare/internal/archive"
	"github.com/WendelHime/lanshare/internal/compression"
	"github.com/WendelHime/lanshare/internal/config"
	"github.com/WendelHime/lanshare/internal/decoder"
	"github.com/WendelHime/lanshare/internal/progress"
	"github.com/WendelHime/lanshare/internal/shared/models"
)

var (
	ErrShortRange  = errors.New("range ended before all bytes arrived")
	ErrUnsafeRange = errors.New("unsafe transfer id or filename")
)

var transferIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ProgressFunc receives the aggregate bytes received for one transfer.
type ProgressFunc func(id models.TransferID, done, total int64)

// CompleteFunc is called once per completed transfer, after extraction.
type CompleteFunc func(status TransferStatus, err error)

type Receiver struct {
	cfg        config.Transfer
	log        *slog.Logger
	tracker    *Tracker
	onProgress ProgressFunc
	onComplete CompleteFunc
	finalize   func(staging string) error
	handlers   sync.WaitGroup
}

type ReceiverOption func(*Receiver)

func WithReceiveProgress(fn ProgressFunc) ReceiverOption {
	return func(r *Receiver) {
		r.onProgress = fn
	}
}

func OnComplete(fn CompleteFunc) ReceiverOption {
	return func(r *Receiver) {
		r.onComplete = fn
	}
}

func WithTracker(t *Tracker) ReceiverOption {
	return func(r *Receiver) {
		r.tracker = t
	}
}

func NewReceiver(cfg config.Transfer, logger *slog.Logger, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		cfg:        cfg,
		log:        logger,
		onProgress: func(models.TransferID, int64, int64) {},
		onComplete: func(TransferStatus, error) {},
	}
	r.finalize = r.extract
	for _, opt := range opts {
		opt(r)
	}
	if r.tracker == nil {
		r.tracker = NewTracker()
	}
	return r
}

// Transfers returns the state of every transfer the receiver is tracking.
func (r *Receiver) Transfers() []TransferStatus {
	return r.tracker.Snapshot()
}

func (r *Receiver) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(r.cfg.Port)))
	if err != nil {
		return fmt.Errorf("listen on transfer port %d: %w", r.cfg.Port, err)
	}
	return r.Serve(ctx, ln)
}

// Serve accepts range connections on ln until ctx is cancelled. Each
// connection is handled on its own goroutine; Serve waits for in-flight
// handlers before returning.
func (r *Receiver) Serve(ctx context.Context, ln net.Listener) error {
	if err := os.MkdirAll(r.cfg.ReceiveDir, 0o755); err != nil {
		ln.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer r.handlers.Wait()
	defer cancel()

	if r.cfg.ReapInterval > 0 && r.cfg.StaleTimeout > 0 {
		r.handlers.Add(1)
		go func() {
			defer r.handlers.Done()
			r.reapLoop(ctx)
		}()
	}

	r.log.Info("receiving", slog.String("addr", ln.Addr().String()), slog.String("receive_dir", r.cfg.ReceiveDir))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		r.handlers.Add(1)
		go func() {
			defer r.handlers.Done()
			r.handle(ctx, conn)
		}()
	}
}

func (r *Receiver) handle(ctx context.Context, conn net.Conn) {
	log := r.log.With(slog.String("remote", conn.RemoteAddr().String()))
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()
	defer func() {
		if p := recover(); p != nil {
			log.Error("range handler panicked", slog.Any("panic", p), slog.String("stack", string(debug.Stack())))
		}
	}()

	if err := r.receive(conn, log); err != nil {
		log.Warn("range rejected", slog.Any("error", err))
	}
}

func (r *Receiver) receive(conn net.Conn, log *slog.Logger) error {
	var src io.Reader = conn
	if r.cfg.IdleTimeout > 0 {
		src = &idleReader{conn: conn, timeout: r.cfg.IdleTimeout}
	}

	hdr, err := decoder.ReadRangeHeader(src)
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if err := validateNames(hdr); err != nil {
		return err
	}
	log = log.With(slog.String("file_id", string(hdr.TransferID)), slog.Int64("chunk_start", hdr.Start))

	if hdr.Length == 0 && hdr.TotalSize > 0 {
		log.Debug("skipping empty range")
		return nil
	}

	plan, err := r.expectedPlan(hdr)
	if err != nil {
		return err
	}

	staging := r.stagingPath(hdr)
	id := hdr.TransferID
	counter, err := r.tracker.Begin(hdr, plan, staging, func(done, total int64) {
		r.tracker.Touch(id)
		r.onProgress(id, done, total)
	})
	if errors.Is(err, ErrTransferFinished) {
		_, _ = io.Copy(io.Discard, io.LimitReader(src, hdr.Length))
		return err
	}
	if err != nil {
		return err
	}

	if err := r.writeRange(src, staging, hdr, counter); err != nil {
		return err
	}

	status, complete, err := r.tracker.Record(id, hdr.Start)
	if err != nil {
		return err
	}
	log.Debug("range received", slog.Int("received", status.Received), slog.Int("expected", status.Expected))
	if complete {
		r.finish(status, log)
	}
	return nil
}

func (r *Receiver) writeRange(src io.Reader, staging string, hdr models.RangeDescriptor, counter *progress.Counter) error {
	f, err := os.OpenFile(staging, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	size := r.cfg.BufferSize
	if size <= 0 {
		size = compression.BufferSize
	}
	dst := io.MultiWriter(io.NewOffsetWriter(f, hdr.Start), counter.Writer())
	n, err := io.CopyBuffer(dst, io.LimitReader(src, hdr.Length), make([]byte, size))
	if err != nil {
		return fmt.Errorf("write range: %w", err)
	}
	if n < hdr.Length {
		return fmt.Errorf("%w: got %d of %d bytes", ErrShortRange, n, hdr.Length)
	}
	return f.Close()
}

func (r *Receiver) finish(status TransferStatus, log *slog.Logger) {
	log.Info("transfer complete, extracting", slog.String("filename", status.FileName))
	err := r.finalize(status.Staging)
	if err != nil {
		log.Error("failed to extract transfer", slog.Any("error", err))
	} else {
		log.Info("transfer extracted", slog.String("receive_dir", r.cfg.ReceiveDir))
	}
	r.onComplete(status, err)
}

// extract decompresses and unpacks a staged artifact into the receive
// directory, removing both intermediates whatever the outcome.
func (r *Receiver) extract(staging string) error {
	defer os.Remove(staging)
	tarPath, err := compression.Decompress(staging, progress.Nop)
	if err != nil {
		return err
	}
	defer os.Remove(tarPath)
	return archive.Unpack(tarPath, r.cfg.ReceiveDir)
}

// expectedPlan rebuilds the ranges the sender dispatches. A sender that
// declares chunk_count splits over that many connections with no empty
// ranges, so the same plan comes back. Headers without it come from senders
// that always split over LegacyConnections and also send empty ranges, which
// are skipped before this point.
func (r *Receiver) expectedPlan(hdr models.RangeDescriptor) ([]Range, error) {
	count := hdr.Count
	if count == 0 {
		count = r.cfg.LegacyConnections
		if count < 1 {
			count = r.cfg.Connections
		}
	}
	plan, err := NewChunkPlan(hdr.TotalSize, count)
	if err != nil {
		return nil, err
	}
	return plan.Dispatchable(), nil
}

func (r *Receiver) stagingPath(hdr models.RangeDescriptor) string {
	return filepath.Join(r.cfg.ReceiveDir, string(hdr.TransferID)+"__"+hdr.FileName)
}

func (r *Receiver) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap()
		}
	}
}

// Reap abandons transfers idle for longer than the stale timeout and
// removes their staging files.
func (r *Receiver) Reap() int {
	abandoned := r.tracker.Reap(r.cfg.StaleTimeout)
	for _, status := range abandoned {
		r.log.Warn("abandoning stale transfer",
			slog.String("file_id", string(status.TransferID)),
			slog.Int("received", status.Received),
			slog.Int("expected", status.Expected))
		if err := os.Remove(status.Staging); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.Warn("failed to remove staging file", slog.Any("error", err))
		}
	}
	return len(abandoned)
}

func validateNames(hdr models.RangeDescriptor) error {
	if !transferIDPattern.MatchString(string(hdr.TransferID)) {
		return fmt.Errorf("%w: transfer id %q", ErrUnsafeRange, hdr.TransferID)
	}
	name := hdr.FileName
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("%w: filename %q", ErrUnsafeRange, name)
	}
	return nil
}

// idleReader pushes the read deadline forward before every read.
type idleReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
		return 0, err
	}
	return r.conn.Read(p)
}
