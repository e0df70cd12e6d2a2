package ethercat

// ALState is the slave Application Layer state (ETG.1000.6 §6.4.1).
type ALState uint8

const (
	StateNone    ALState = 0x00
	StateInit    ALState = 0x01
	StatePreOp   ALState = 0x02
	StateBoot    ALState = 0x03
	StateSafeOp  ALState = 0x04
	StateOp      ALState = 0x08
	StateError   ALState = 0x10 // OR'd into the reported state on an AL error
	StateAckMask ALState = 0x10
)

func (s ALState) String() string {
	switch s &^ StateError {
	case StateInit:
		return "INIT"
	case StatePreOp:
		return "PRE_OP"
	case StateBoot:
		return "BOOT"
	case StateSafeOp:
		return "SAFE_OP"
	case StateOp:
		return "OP"
	default:
		return "NONE"
	}
}

// MailboxProtocol bits, reported by a slave's SII mailbox-protocol word.
type MailboxProtocol uint16

const (
	ProtoAoE MailboxProtocol = 1 << 0
	ProtoEoE MailboxProtocol = 1 << 1
	ProtoCoE MailboxProtocol = 1 << 2
	ProtoFoE MailboxProtocol = 1 << 3
	ProtoSoE MailboxProtocol = 1 << 4
	ProtoVoE MailboxProtocol = 1 << 5
)

// SyncManager mirrors one SII/CoE SyncManager configuration entry.
type SyncManager struct {
	StartAddr uint16
	Length    uint16
	Control   uint8
	Enable    uint8
}

// FMMU mirrors one FMMU configuration entry (logical-to-physical mapping).
type FMMU struct {
	LogStart   uint32
	LogLength  uint16
	LogStartBit uint8
	LogStopBit  uint8
	PhysStart   uint16
	PhysStartBit uint8
	TypeRead    bool
	TypeWrite   bool
	Active      bool
}

// PDOEntry is one mapped object (index:subindex, bit length) inside a PDO.
type PDOEntry struct {
	Index    uint16
	Subindex uint8
	BitLen   uint8
	Name     string
}

// PDO is one SyncManager's assigned process data object.
type PDO struct {
	Index   uint16
	Entries []PDOEntry
	SMIndex int
}

// Slave is the master's view of one discovered device: its SII-derived
// identity, mailbox/SM/FMMU configuration, and live AL state. It mirrors
// SOEM's ec_slave struct.
type Slave struct {
	// ConfigAddr is the fixed station address assigned during discovery
	// (0x1000 + ring position), used for all subsequent FPRD/FPWR access.
	ConfigAddr uint16
	// AliasAddr is the configured station alias read from SII, 0 if unset.
	AliasAddr uint16
	RingPos   uint16

	VendorID        uint32
	ProductCode     uint32
	RevisionNo      uint32
	SerialNo        uint32

	Name string

	MailboxProtocols MailboxProtocol
	MailboxOutStart  uint16
	MailboxOutLength uint16
	MailboxInStart   uint16
	MailboxInLength  uint16
	MailboxBootOutStart  uint16
	MailboxBootOutLength uint16
	MailboxBootInStart   uint16
	MailboxBootInLength  uint16

	SyncManagers [MaxSyncManagers]SyncManager
	FMMUs        [MaxFMMUs]FMMU
	NumSM        int
	NumFMMU      int

	RxPDOs []PDO
	TxPDos []PDO

	State       ALState
	ALStatusCode uint16

	// HasDC reports whether the slave implements Distributed Clock
	// registers (0x0910 system time, 0x09A0 SYNC0 cycle, ...).
	HasDC bool
	// PropDelay is the measured propagation delay in nanoseconds from the
	// reference clock to this slave, set by the DC engine.
	PropDelay uint32
	// ParentPort is the ring position of the slave upstream of this one,
	// 0 for the first slave after the master.
	ParentPort int

	// ActivePorts is a bitmap of the slave's physical ports currently
	// carrying a link (bit k set iff port k is active), derived from its
	// DL-status register during discovery.
	ActivePorts uint8
	// topology is the port count derived from ActivePorts: 1=leaf,
	// 2=inline, 3=branch, 4=cross (ETG.1000.4 §6.1's "open/pass-through/
	// branch" terminology). It drives deriveTopology's backward walk and
	// isn't useful to callers on its own, so it stays unexported.
	topology int

	// mbxRecovery is set when the cyclic mailbox handler's inbound pass
	// found SM1 reporting full but the FPRD of its window came back lost
	// (wkc 0): the next tick runs the robust-mailbox repeat-toggle
	// handshake instead of a plain read retry.
	mbxRecovery bool

	// OutputOffset/InputOffset are this slave's byte offsets into the
	// owning Group's IO map, set by the mapping engine.
	OutputOffset int
	OutputBits   int
	InputOffset  int
	InputBits    int

	eeprom [MaxEEPROMBuf]byte
}

// IsLost reports whether the slave's cached state is StateNone with no AL
// status code, which ReadState records when the slave's own AL-status FPRD
// gets no reply.
func (s *Slave) IsLost() bool {
	return s.ALStatusCode == 0 && s.State == StateNone
}
