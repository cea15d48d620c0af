// Copyright 2016 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"net"
	"net/http"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/fdbmem/fdbmem/kv/db"
)

// Server serves the debug HTTP API of a database.
type Server struct {
	addr string
	srv  *http.Server
	ln   net.Listener
}

func NewServer(addr string, d *db.DB) *Server {
	return &Server{
		addr: addr,
		srv:  &http.Server{Handler: NewHandler(d)},
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Annotatef(err, "listen on %s", s.addr)
	}
	s.ln = ln
	log.Info("status server started", zap.String("addr", s.Addr()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("status server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the address the server listens on, which differs from the configured one when that
// used port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Close(ctx context.Context) error {
	return errors.Trace(s.srv.Shutdown(ctx))
}
