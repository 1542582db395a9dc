package transfer

import (
	"errors"
	"fmt"
)

var ErrInvalidPlan = errors.New("invalid chunk plan")

// Range is a contiguous byte interval [Start, Start+Length) of an artifact.
type Range struct {
	Start  int64
	Length int64
}

func (r Range) End() int64 {
	return r.Start + r.Length
}

// ChunkPlan partitions [0, total) into count ranges. Every range has the same
// base length except the last, which absorbs the remainder.
type ChunkPlan struct {
	Total  int64
	Ranges []Range
}

func NewChunkPlan(total int64, count int) (ChunkPlan, error) {
	if count < 1 || total < 0 {
		return ChunkPlan{}, fmt.Errorf("%w: total=%d count=%d", ErrInvalidPlan, total, count)
	}

	base := total / int64(count)
	ranges := make([]Range, count)
	for i := range ranges {
		ranges[i] = Range{Start: int64(i) * base, Length: base}
	}
	last := &ranges[count-1]
	last.Length = total - last.Start

	return ChunkPlan{Total: total, Ranges: ranges}, nil
}

// Dispatchable returns the ranges worth a connection. Zero-length ranges are
// left out, except that an empty artifact is still sent as the single range
// [0,0) so the receiver can complete it.
func (p ChunkPlan) Dispatchable() []Range {
	out := make([]Range, 0, len(p.Ranges))
	for _, r := range p.Ranges {
		if r.Length > 0 {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		out = append(out, Range{})
	}
	return out
}
