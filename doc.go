// Package ethercat implements an EtherCAT master: discovery and
// configuration of slaves on a raw Ethernet segment, the AL state machine,
// Distributed Clock synchronization, cyclic process data, and the mailbox
// protocols (CoE, FoE, EoE, SoE) that ride on it.
//
// The master never talks to a NIC directly; it is driven through the Link
// interface, so it can run against a real raw-socket link or, for tests, an
// in-process loopback link paired with a simulated slave.
package ethercat
