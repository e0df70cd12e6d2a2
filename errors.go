package ethercat

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the common illegal-argument/timeout/state failures.
var (
	ErrIllegalArgument = errors.New("error in function arguments")
	ErrTimeout         = errors.New("function timeout")
	ErrNoFrame         = errors.New("no frame received before timeout")
	ErrPortBusy        = errors.New("no free frame index, all slots in flight")
	ErrWrongState      = errors.New("slave is not in the required AL state")
	ErrSlaveLost       = errors.New("slave is not responding")
	ErrNotConfigured   = errors.New("config-init/config-map-group has not been run")
	ErrOutOfMailboxes  = errors.New("mailbox pool exhausted")
	ErrMailboxNotSupp  = errors.New("slave does not support this mailbox protocol")
	ErrSIINotFound     = errors.New("SII category not present")
	ErrBadWorkCounter  = errors.New("work counter lower than expected")
)

// ErrorKind classifies an entry on the error ring (spec §3, §7).
type ErrorKind uint8

const (
	ErrorKindSDO ErrorKind = iota
	ErrorKindEmergency
	ErrorKindPacket
	ErrorKindSDOInfo
	ErrorKindSoE
	ErrorKindMailbox
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindSDO:
		return "SDO"
	case ErrorKindEmergency:
		return "EMERGENCY"
	case ErrorKindPacket:
		return "PACKET"
	case ErrorKindSDOInfo:
		return "SDO-INFO"
	case ErrorKindSoE:
		return "SOE"
	case ErrorKindMailbox:
		return "MBX"
	default:
		return "UNKNOWN"
	}
}

// ErrorRecord is one entry on the bounded error ring.
type ErrorRecord struct {
	Time     time.Time
	Slave    uint16
	Index    uint16
	Subindex uint8
	Kind     ErrorKind
	Code     uint32
}

func (e ErrorRecord) Error() string {
	return fmt.Sprintf("[%s] slave x%x index x%x:x%x code x%x", e.Kind, e.Slave, e.Index, e.Subindex, e.Code)
}

// errorRing is a bounded FIFO of ErrorRecord, oldest entries dropped first.
type errorRing struct {
	entries []ErrorRecord
	head    int
	count   int
}

func newErrorRing(size int) *errorRing {
	return &errorRing{entries: make([]ErrorRecord, size)}
}

func (r *errorRing) push(rec ErrorRecord) {
	idx := (r.head + r.count) % len(r.entries)
	r.entries[idx] = rec
	if r.count < len(r.entries) {
		r.count++
	} else {
		// Ring full: drop the oldest by advancing head.
		r.head = (r.head + 1) % len(r.entries)
	}
}

// pop removes and returns the oldest record, if any.
func (r *errorRing) pop() (ErrorRecord, bool) {
	if r.count == 0 {
		return ErrorRecord{}, false
	}
	rec := r.entries[r.head]
	r.head = (r.head + 1) % len(r.entries)
	r.count--
	return rec, true
}

func (r *errorRing) isError() bool {
	return r.count > 0
}

// SDOAbortCode is a CoE SDO abort code; it implements error via a
// code->string lookup table so it can be returned directly from SDO
// operations.
type SDOAbortCode uint32

const (
	AbortToggleBit       SDOAbortCode = 0x05030000
	AbortTimeout         SDOAbortCode = 0x05040000
	AbortCommand         SDOAbortCode = 0x05040001
	AbortOutOfMemory     SDOAbortCode = 0x05040005
	AbortUnsupportedAcc  SDOAbortCode = 0x06010000
	AbortWriteOnly       SDOAbortCode = 0x06010001
	AbortReadOnly        SDOAbortCode = 0x06010002
	AbortObjectNotExist  SDOAbortCode = 0x06020000
	AbortNoMap           SDOAbortCode = 0x06040041
	AbortMapLength       SDOAbortCode = 0x06040042
	AbortParamIncompat   SDOAbortCode = 0x06040043
	AbortDeviceIncompat  SDOAbortCode = 0x06040047
	AbortHardware        SDOAbortCode = 0x06060000
	AbortTypeMismatch    SDOAbortCode = 0x06070010
	AbortDataLong        SDOAbortCode = 0x06070012
	AbortDataShort       SDOAbortCode = 0x06070013
	AbortSubindexNoExist SDOAbortCode = 0x06090011
	AbortValueRangeLow   SDOAbortCode = 0x06090032
	AbortGeneral         SDOAbortCode = 0x08000000
)

var sdoAbortText = map[SDOAbortCode]string{
	AbortToggleBit:       "toggle bit not alternated",
	AbortTimeout:         "SDO protocol timed out",
	AbortCommand:         "client/server command specifier not valid or unknown",
	AbortOutOfMemory:     "out of memory",
	AbortUnsupportedAcc:  "unsupported access to an object",
	AbortWriteOnly:       "attempt to read a write only object",
	AbortReadOnly:        "attempt to write a read only object",
	AbortObjectNotExist:  "object does not exist in the object dictionary",
	AbortNoMap:           "object cannot be mapped to the PDO",
	AbortMapLength:       "number and length of mapped objects exceeds PDO length",
	AbortParamIncompat:   "general parameter incompatibility reason",
	AbortDeviceIncompat:  "general internal incompatibility in the device",
	AbortHardware:        "access failed due to a hardware error",
	AbortTypeMismatch:    "data type does not match",
	AbortDataLong:        "data type does not match, length too high",
	AbortDataShort:       "data type does not match, length too low",
	AbortSubindexNoExist: "subindex does not exist",
	AbortValueRangeLow:   "value range of parameter written too low",
	AbortGeneral:         "general error",
}

func (a SDOAbortCode) Error() string {
	if text, ok := sdoAbortText[a]; ok {
		return fmt.Sprintf("SDO abort x%08x: %s", uint32(a), text)
	}
	return fmt.Sprintf("SDO abort x%08x", uint32(a))
}
