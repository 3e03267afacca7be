// Package server ties the system's two surfaces together: the
// transfer-protocol listener (one goroutine per accepted peer) and the
// HTTP pull-request API (§2, §5), both coordinated through one lock
// manager over the repositories hosted under a single root.
package server

import (
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/makeos-kit/gitd/config"
	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/httpapi"
	"github.com/makeos-kit/gitd/lockmgr"
	"github.com/makeos-kit/gitd/pkgs/logger"
	"github.com/makeos-kit/gitd/refstore"
	"github.com/makeos-kit/gitd/transfer"
)

// Server hosts repositories under cfg.RepoRoot for both protocol
// surfaces.
type Server struct {
	cfg   *config.AppConfig
	log   logger.Logger
	locks *lockmgr.Manager
	prs   httpapi.Store

	listener net.Listener
	httpSrv  *http.Server
	wg       sync.WaitGroup
}

// New constructs a server; prs may be nil when the HTTP API is not
// being served (transfer-only deployments).
func New(cfg *config.AppConfig, prs httpapi.Store, log logger.Logger) *Server {
	return &Server{
		cfg:   cfg,
		log:   log.Module("server"),
		locks: lockmgr.New(),
		prs:   prs,
	}
}

// Locks exposes the lock manager for tests that need to observe or
// contend with the server's serialisation domain.
func (s *Server) Locks() *lockmgr.Manager { return s.locks }

// openRepo resolves a repository name from a transfer command frame to
// its store under the repo root.
func (s *Server) openRepo(name string) (*refstore.Store, error) {
	if strings.Contains(name, "..") {
		return nil, gerr.New(gerr.NotFound, "unknown repository: "+name)
	}
	store := refstore.Open(filepath.Join(s.cfg.RepoRoot, name))
	if !store.Exists() {
		return nil, gerr.New(gerr.NotFound, "unknown repository: "+name)
	}
	return store, nil
}

// CreateRepo provisions an empty hosted repository, failing
// AlreadyExists when it is already present.
func (s *Server) CreateRepo(name string) error {
	if name == "" || strings.Contains(name, "..") || strings.Contains(name, "/") {
		return gerr.New(gerr.InvalidArgument, "invalid repository name: "+name)
	}
	return refstore.Open(filepath.Join(s.cfg.RepoRoot, name)).Init(config.DefaultBranch)
}

// Start opens both listeners and returns once they are accepting.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return gerr.Wrap(gerr.IOError, err, "listen on transfer address")
	}
	s.listener = ln
	s.log.Info("Transfer protocol listening", "Addr", ln.Addr().String())

	ts := transfer.NewServer(s.openRepo, s.locks, s.log)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer c.Close()
				if err := ts.ServeConn(c); err != nil {
					s.log.Error("Transfer session failed", "Peer", c.RemoteAddr().String(), "Err", err.Error())
				}
			}(conn)
		}
	}()

	if s.prs != nil {
		api := httpapi.New(s.prs, s.locks, s.cfg.RepoRoot, s.log)
		s.httpSrv = &http.Server{Addr: s.cfg.HTTPAddr, Handler: api}
		httpLn, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			ln.Close()
			return gerr.Wrap(gerr.IOError, err, "listen on http address")
		}
		s.log.Info("HTTP API listening", "Addr", httpLn.Addr().String())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.httpSrv.Serve(httpLn); err != nil && err != http.ErrServerClosed {
				s.log.Error("HTTP server stopped", "Err", err.Error())
			}
		}()
	}
	return nil
}

// TransferAddr returns the transfer listener's bound address, useful
// when ListenAddr was ":0".
func (s *Server) TransferAddr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes both listeners and waits for in-flight sessions.
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
	if s.httpSrv != nil {
		s.httpSrv.Close()
	}
	s.wg.Wait()
	s.log.Info("Server stopped")
}
