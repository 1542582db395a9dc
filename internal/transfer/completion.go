package transfer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/WendelHime/lanshare/internal/progress"
	"github.com/WendelHime/lanshare/internal/shared/models"
)

var (
	ErrTransferFinished = errors.New("transfer already finished")
	ErrTransferMismatch = errors.New("range does not match its transfer")
	ErrUnknownTransfer  = errors.New("unknown transfer")
	ErrUnexpectedRange  = errors.New("range is not part of the transfer plan")
)

type State int

const (
	StatePending State = iota
	StateInProgress
	StateCompleted
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	case StateAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{StatePending, StateInProgress, StateCompleted, StateAbandoned} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown transfer state %q", text)
}

// TransferStatus is a point in time copy of one tracked transfer.
type TransferStatus struct {
	TransferID models.TransferID `json:"file_id"`
	FileName   string            `json:"filename"`
	State      State             `json:"state"`
	Received   int               `json:"received"`
	Expected   int               `json:"expected"`
	TotalSize  int64             `json:"total_size"`
	Staging    string            `json:"-"`
}

type transfer struct {
	status       TransferStatus
	planned      map[int64]int64
	received     map[int64]struct{}
	lastActivity time.Time
	progress     *progress.Counter
}

// accepts checks that hdr belongs to this transfer and names one of its
// planned ranges.
func (tr *transfer) accepts(hdr models.RangeDescriptor) error {
	switch {
	case tr.status.FileName != hdr.FileName:
		return fmt.Errorf("%w: filename %q, want %q", ErrTransferMismatch, hdr.FileName, tr.status.FileName)
	case tr.status.TotalSize != hdr.TotalSize:
		return fmt.Errorf("%w: total size %d, want %d", ErrTransferMismatch, hdr.TotalSize, tr.status.TotalSize)
	case hdr.Count > 0 && hdr.Count != tr.status.Expected:
		return fmt.Errorf("%w: chunk count %d, want %d", ErrTransferMismatch, hdr.Count, tr.status.Expected)
	}
	if length, ok := tr.planned[hdr.Start]; !ok || length != hdr.Length {
		return fmt.Errorf("%w: [%d,%d)", ErrUnexpectedRange, hdr.Start, hdr.Start+hdr.Length)
	}
	return nil
}

// Tracker owns the completion state of every transfer a receiver knows of.
// A transfer is complete when every range of its plan has been recorded;
// ranges outside the plan are never counted.
type Tracker struct {
	mu       sync.Mutex
	active   map[models.TransferID]*transfer
	finished map[models.TransferID]*transfer
	now      func() time.Time
}

type TrackerOption func(*Tracker)

func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		active:   make(map[models.TransferID]*transfer),
		finished: make(map[models.TransferID]*transfer),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Begin registers the transfer a range belongs to, creating it in the
// Pending state on first sight. plan lists the ranges the sender dispatches;
// plan and staging are only used on creation. Ranges that are not part of
// the plan are rejected. The returned counter aggregates bytes across every
// range of the transfer.
func (t *Tracker) Begin(hdr models.RangeDescriptor, plan []Range, staging string, onProgress progress.Func) (*progress.Counter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.finished[hdr.TransferID]; ok {
		return nil, ErrTransferFinished
	}

	tr, ok := t.active[hdr.TransferID]
	if !ok {
		if len(plan) == 0 {
			return nil, fmt.Errorf("%w: empty plan", ErrTransferMismatch)
		}
		planned := make(map[int64]int64, len(plan))
		for _, r := range plan {
			planned[r.Start] = r.Length
		}
		tr = &transfer{
			status: TransferStatus{
				TransferID: hdr.TransferID,
				FileName:   hdr.FileName,
				State:      StatePending,
				Expected:   len(planned),
				TotalSize:  hdr.TotalSize,
				Staging:    staging,
			},
			planned:  planned,
			received: make(map[int64]struct{}, len(planned)),
			progress: progress.NewCounter(hdr.TotalSize, onProgress),
		}
	}

	if err := tr.accepts(hdr); err != nil {
		return nil, err
	}
	if !ok {
		t.active[hdr.TransferID] = tr
	}

	tr.lastActivity = t.now()
	return tr.progress, nil
}

// Touch refreshes the activity timestamp so a transfer that is still
// receiving bytes is not reaped.
func (t *Tracker) Touch(id models.TransferID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tr, ok := t.active[id]; ok {
		tr.lastActivity = t.now()
	}
}

// Record marks the range starting at start as fully received. It reports
// complete exactly once per transfer: on the call that brings the received
// set to the expected size. Recording the same start twice is a no-op.
func (t *Tracker) Record(id models.TransferID, start int64) (TransferStatus, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.active[id]
	if !ok {
		if _, done := t.finished[id]; done {
			return TransferStatus{}, false, ErrTransferFinished
		}
		return TransferStatus{}, false, ErrUnknownTransfer
	}
	if _, ok := tr.planned[start]; !ok {
		return tr.status, false, fmt.Errorf("%w: start %d", ErrUnexpectedRange, start)
	}

	tr.received[start] = struct{}{}
	tr.lastActivity = t.now()
	tr.status.Received = len(tr.received)
	tr.status.State = StateInProgress

	if tr.status.Received < tr.status.Expected {
		return tr.status, false, nil
	}

	tr.status.State = StateCompleted
	tr.received = nil
	tr.planned = nil
	delete(t.active, id)
	t.finished[id] = tr
	return tr.status, true, nil
}

// Reap abandons active transfers idle for longer than timeout and forgets
// finished ones older than timeout. It returns the abandoned transfers so
// their staging files can be removed.
func (t *Tracker) Reap(timeout time.Duration) []TransferStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var abandoned []TransferStatus
	for id, tr := range t.active {
		if now.Sub(tr.lastActivity) <= timeout {
			continue
		}
		tr.status.State = StateAbandoned
		tr.received = nil
		tr.planned = nil
		tr.lastActivity = now
		delete(t.active, id)
		t.finished[id] = tr
		abandoned = append(abandoned, tr.status)
	}
	for id, tr := range t.finished {
		if now.Sub(tr.lastActivity) > timeout {
			delete(t.finished, id)
		}
	}
	return abandoned
}

// Snapshot returns every known transfer ordered by transfer ID.
func (t *Tracker) Snapshot() []TransferStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TransferStatus, 0, len(t.active)+len(t.finished))
	for _, tr := range t.active {
		out = append(out, tr.status)
	}
	for _, tr := range t.finished {
		out = append(out, tr.status)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TransferID < out[j].TransferID
	})
	return out
}
