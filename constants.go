package ethercat

// Size budgets, named after the SOEM constants they correspond to so that
// anyone cross-referencing the EtherCAT spec or SOEM source recognizes them.
const (
	// MaxSlaves is the maximum number of slaves one master instance tracks.
	MaxSlaves = 200
	// MaxGroups is the maximum number of IO groups.
	MaxGroups = 1
	// MaxSyncManagers is the number of SyncManagers modeled per slave.
	MaxSyncManagers = 8
	// MaxFMMUs is the number of FMMUs modeled per slave.
	MaxFMMUs = 4
	// MaxBuffers is the size of the Port's indexed TX/RX ring (EC_MAXBUF).
	MaxBuffers = 16
	// MaxMailboxBuffer is the byte size of one mailbox buffer (EC_MAXMBX).
	MaxMailboxBuffer = 1486
	// MailboxPoolSize is the number of pooled mailbox buffers (EC_MBXPOOLSIZE).
	MailboxPoolSize = 16
	// MaxName is the maximum length of a slave's readable name.
	MaxName = 40
	// MaxIOSegments bounds a group's LRW segmentation list.
	MaxIOSegments = 64
	// MaxEEPROMBuf is the size of the per-slave SII cache buffer in bytes.
	MaxEEPROMBuf = 1024
	// MaxErrorList bounds the error ring.
	MaxErrorList = 64
	// MaxMappedPDO bounds SII/CoE PDO mapping table entries.
	MaxMappedPDO = 64
	// MaxMapWorkers bounds the number of parallel mapping workers (EC_MAX_MAPT).
	MaxMapWorkers = 8
	// MaxFPRDMulti bounds slaves batched per frame in a chunked state read.
	MaxFPRDMulti = 64

	// MaxLRWData is the maximum payload addressable by one LRW/LRD/LWR
	// datagram before a logical IO window must be segmented.
	MaxLRWData = 1486
	// FirstDCDatagramReserve is the space reserved in the first process-data
	// segment of a cycle for the embedded FRMW DC datagram.
	FirstDCDatagramReserve = 20

	// mtuPayload is the maximum EtherCAT payload (datagrams) per frame.
	mtuPayload = 1498
)
