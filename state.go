package ethercat

import (
	"encoding/binary"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// forceState writes the AL control register and polls AL status until the
// slave reports the requested state or the default timeout elapses.
func (m *Master) forceState(s *Slave, state ALState) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(state))
	if _, err := m.fpwr(s.ConfigAddr, regALControl, buf[:]); err != nil {
		return err
	}
	return m.waitState(s, state, defaultTimeout)
}

// waitState polls a slave's AL status register until it matches want or
// reports an error (state OR'd with StateError), or timeout elapses.
func (m *Master) waitState(s *Slave, want ALState, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		status, wkc, err := m.readUint16(s.ConfigAddr, regALStatus)
		if err != nil {
			return err
		}
		if wkc == 0 {
			return ErrSlaveLost
		}
		cur := ALState(status)
		s.State = cur
		if cur&StateError != 0 {
			code, _, _ := m.readUint16(s.ConfigAddr, regALStatusCode)
			s.ALStatusCode = code
			m.PushError(ErrorRecord{Slave: s.ConfigAddr, Kind: ErrorKindPacket, Code: uint32(code)})
			return fmt.Errorf("ethercat: slave x%x AL error entering %s: code x%x", s.ConfigAddr, want, code)
		}
		if cur == want {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("ethercat: slave x%x timed out reaching %s (stuck at %s): %w", s.ConfigAddr, want, cur, ErrTimeout)
		}
		time.Sleep(time.Millisecond)
	}
}

// RequestState requests every configured slave transition to the given AL
// state via broadcast write, then waits for each to confirm individually.
// This is the normal path after ConfigInit/ConfigMapGroup, as opposed to
// forceState's per-slave path used during discovery before addresses are
// assigned uniformly.
func (m *Master) RequestState(state ALState) error {
	m.mu.RLock()
	slaves := m.slaves
	m.mu.RUnlock()
	if len(slaves) == 0 {
		return ErrNotConfigured
	}

	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(state))
	if _, err := m.bwr(regALControl, buf[:]); err != nil {
		return err
	}

	for pos := 1; pos < len(slaves); pos++ {
		s := slaves[pos]
		if s == nil {
			continue
		}
		if err := m.waitState(s, state, defaultTimeout); err != nil {
			if state == StateBoot && err != ErrSlaveLost {
				// BOOT readback over broadcast AL status is unreliable on
				// several ESC generations (some never latch BOOT into the
				// status register read back this way); a per-slave FPRD
				// check result of anything other than SlaveLost is treated
				// as already in BOOT rather than failing the whole group.
				log.Debugf("[STATE][x%x] BOOT readback ambiguous, treating as entered: %v", s.ConfigAddr, err)
				continue
			}
			return fmt.Errorf("ethercat: slave x%x: %w", s.ConfigAddr, err)
		}
	}
	return nil
}

// ReadState refreshes every slave's cached AL state with one FPRD per slave and
// returns the lowest state reached by any slave (SOEM's ecx_readstate
// semantics: the group state is the worst of the group).
func (m *Master) ReadState() (ALState, error) {
	m.mu.RLock()
	slaves := m.slaves
	m.mu.RUnlock()

	worst := StateOp
	for pos := 1; pos < len(slaves); pos++ {
		s := slaves[pos]
		if s == nil {
			continue
		}
		status, wkc, err := m.readUint16(s.ConfigAddr, regALStatus)
		if err != nil {
			return StateNone, err
		}
		if wkc == 0 {
			s.State = StateNone
			worst = StateNone
			continue
		}
		s.State = ALState(status)
		if s.State&^StateError < worst {
			worst = s.State &^ StateError
		}
	}
	return worst, nil
}

// WriteState is RequestState under the name that pairs with ReadState; both
// drive the same broadcast-write/per-slave-confirm path.
func (m *Master) WriteState(state ALState) error {
	return m.RequestState(state)
}

// StateCheck refreshes every slave's state via ReadState and reports
// whether the group as a whole has reached the expected state.
func (m *Master) StateCheck(expect ALState) (bool, error) {
	cur, err := m.ReadState()
	if err != nil {
		return false, err
	}
	return cur == expect, nil
}
