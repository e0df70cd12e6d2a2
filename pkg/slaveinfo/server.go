// Package slaveinfo exposes a read-only HTTP introspection surface over a
// running ethercat.Master: slave identity, AL state, and IO mapping, for
// operators and dashboards to poll without going through the mailbox
// protocols themselves.
package slaveinfo

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gosoem/ethercat"
)

// Server serves introspection endpoints for one Master.
type Server struct {
	master *ethercat.Master
	log    *slog.Logger
	srv    *http.Server
}

// NewServer builds a Server bound to addr, but does not start listening
// until Start is called.
func NewServer(master *ethercat.Master, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{master: master, log: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/slaves", s.handleSlaves)
	mux.HandleFunc("/slaves/", s.handleSlave)
	mux.HandleFunc("/healthz", s.handleHealthz)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving and blocks until the server stops or errors.
func (s *Server) Start() error {
	s.log.Info("slaveinfo server starting", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the server down.
func (s *Server) Close() error {
	return s.srv.Close()
}

type slaveView struct {
	RingPos          uint16 `json:"ringPos"`
	ConfigAddr       uint16 `json:"configAddr"`
	VendorID         uint32 `json:"vendorId"`
	ProductCode      uint32 `json:"productCode"`
	RevisionNo       uint32 `json:"revisionNo"`
	SerialNo         uint32 `json:"serialNo"`
	Name             string `json:"name"`
	State            string `json:"state"`
	MailboxProtocols uint16 `json:"mailboxProtocols"`
	HasDC            bool   `json:"hasDC"`
	OutputBits       int    `json:"outputBits"`
	InputBits        int    `json:"inputBits"`
}

func toView(s *ethercat.Slave) slaveView {
	return slaveView{
		RingPos:          s.RingPos,
		ConfigAddr:       s.ConfigAddr,
		VendorID:         s.VendorID,
		ProductCode:      s.ProductCode,
		RevisionNo:       s.RevisionNo,
		SerialNo:         s.SerialNo,
		Name:             s.Name,
		State:            s.State.String(),
		MailboxProtocols: uint16(s.MailboxProtocols),
		HasDC:            s.HasDC,
		OutputBits:       s.OutputBits,
		InputBits:        s.InputBits,
	}
}

func (s *Server) handleSlaves(w http.ResponseWriter, r *http.Request) {
	count := s.master.SlaveCount()
	views := make([]slaveView, 0, count)
	for pos := 1; pos <= count; pos++ {
		sl, err := s.master.Slave(pos)
		if err != nil {
			continue
		}
		views = append(views, toView(sl))
	}
	writeJSON(w, views)
}

func (s *Server) handleSlave(w http.ResponseWriter, r *http.Request) {
	pos, ok := parseRingPos(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	sl, err := s.master.Slave(pos)
	if err != nil {
		s.log.Debug("slave lookup failed", "ringPos", pos, "err", err)
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, toView(sl))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func parseRingPos(path string) (int, bool) {
	const prefix = "/slaves/"
	if len(path) <= len(prefix) {
		return 0, false
	}
	s := path[len(prefix):]
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	if n == 0 {
		return 0, false
	}
	return n, true
}
