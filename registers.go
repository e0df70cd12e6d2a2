package ethercat

// ESC register addresses used by the master (ETG.1000.4 §6, abbreviated to
// the subset this package touches).
const (
	regType        = 0x0000
	regStationAddr = 0x0010
	regDLStatus    = 0x0110
	regALControl   = 0x0120
	regALStatus    = 0x0130
	regALStatusCode = 0x0134

	regSMBase = 0x0800 // 8 bytes per entry, MaxSyncManagers entries

	regSIIControl = 0x0502
	regSIIAddress = 0x0504
	regSIIData    = 0x0508

	regDCRecvTime    = 0x0900 // port 0 receive time
	regDCSysTime     = 0x0910
	regDCSysTimeOff  = 0x0920
	regDCSysDelay    = 0x0928
	regDCSpeedCount  = 0x0930
	regDCTimeLoop0   = 0x0900
	regDCSync0Cycle  = 0x09a0
	regDCSync1Cycle  = 0x09a4
	regDCSync0Start  = 0x0990
	regDCActivation  = 0x0981
)

const (
	siiCtrlBusy  = 1 << 15
	siiCtrlRead  = 1 << 8
	siiCtrlWrite = 1 << 1
)

// SM1 (mailbox input) status/control bits used by the robust-mailbox
// repeat-request handshake: the master toggles smControlRepeatReq in SM1's
// control byte and waits for the slave's ESC to mirror the toggle back in
// smStatusRepeatAck, confirming it re-latched the mailbox content for a
// retried read after a lost frame.
const (
	smStatusMailboxFull = 1 << 3
	smStatusRepeatAck   = 1 << 9
	smControlRepeatReq  = 1 << 1
)

// autoIncrAddr builds the ADP value for an APRD/APWR access to the slave at
// the 1-based ring position ringPos: 0 for the first slave and one less for
// each slave further down the ring, since each slave increments the address
// and the one that sees 0 handles the datagram. FPRD/FPWR/FPRW target
// ConfigAddr directly instead.
func autoIncrAddr(ringPos int) uint16 {
	return uint16(1 - ringPos)
}
