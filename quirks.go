package ethercat

// This file documents the opt-in workarounds collected under Master.Quirks
// (see Quirks in master.go). Each quirk defaults to off: it is a known
// deviation in some slave firmware rather than mandated ESC behavior, so
// enabling one is a deliberate choice by the integrator for the firmware
// they're running against, not a default correctness fix.
//
// SM2TypeWorkaround (applied in mapping.go's ConfigMapGroup, before
// programSyncManagers) re-reads the SyncManager category from SII a
// second time immediately before programming SM registers. A minority of
// ESC firmware revisions report SM2's control byte as its power-on reset
// value on the very first SII read after the station address is set, and
// only return the correct value on a subsequent read once the EEPROM
// state machine has settled.
