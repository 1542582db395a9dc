package models

import (
	"strings"

	"github.com/google/uuid"
)

// TransferID scopes every range of a single send operation.
type TransferID string

func NewTransferID() TransferID {
	return TransferID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// RangeDescriptor is the header preceding the raw bytes of one range on a
// transfer connection. Count is the number of ranges the sender dispatches
// for the transfer; zero means the sender did not declare it.
type RangeDescriptor struct {
	TransferID TransferID `json:"file_id"`
	FileName   string     `json:"filename"`
	TotalSize  int64      `json:"total_size"`
	Start      int64      `json:"chunk_start"`
	Length     int64      `json:"chunk_size"`
	Count      int        `json:"chunk_count,omitempty"`
}

func (r RangeDescriptor) End() int64 {
	return r.Start + r.Length
}
