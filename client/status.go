package client

import (
	"strconv"

	"github.com/pkg/errors"
)

// Status is the result of decoding. Every status except OK is permanent.
type Status int

const (
	OK Status = iota
	ErrorInvalidMagic
	ErrorUnknownFormat
	ErrorUnsupportedVersion
	ErrorUnsupportedCPU
	ErrorUnsupportedCPUMax
	ErrorDoubleCPUMax
	ErrorDoublePerCPUCount
	ErrorNoCPUMax
	ErrorNoMemory
	ErrorPerCPUItemsOverflow
)

var statusNames = [...]string{
	OK:                       "ok",
	ErrorInvalidMagic:        "invalid magic",
	ErrorUnknownFormat:       "unknown format",
	ErrorUnsupportedVersion:  "unsupported version",
	ErrorUnsupportedCPU:      "unsupported processor",
	ErrorUnsupportedCPUMax:   "unsupported processor maximum",
	ErrorDoubleCPUMax:        "processor maximum declared twice",
	ErrorDoublePerCPUCount:   "per-processor item count declared twice",
	ErrorNoCPUMax:            "per-processor item count before processor maximum",
	ErrorNoMemory:            "out of hold-back memory",
	ErrorPerCPUItemsOverflow: "per-processor hold-back limit exceeded",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "handler status " + strconv.Itoa(int(s))
}

// Err returns nil for OK and an error describing s otherwise.
func (s Status) Err() error {
	if s == OK {
		return nil
	}
	return errors.Errorf("record stream: %s", s)
}
