// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves gathered metrics over HTTP at /metrics, along with any
// additional handlers.
type Server struct {
	sync.Mutex
	srv      *http.Server
	addr     net.Addr
	done     chan struct{}
	handlers map[string]http.Handler
}

// NewServer creates an HTTP metrics server.
func NewServer() *Server {
	return &Server{
		handlers: make(map[string]http.Handler),
	}
}

// Handle serves handler at pattern next to /metrics once the server is
// started.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.Lock()
	defer s.Unlock()
	s.handlers[pattern] = handler
}

// Start starts serving the gatherer at the given address.
func (s *Server) Start(address string, gatherer prometheus.Gatherer) error {
	s.Lock()
	defer s.Unlock()

	if s.srv != nil {
		return fmt.Errorf("metrics: HTTP server already running at %s", s.addr)
	}

	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("metrics: failed to listen at %q: %w", address, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))
	for pattern, h := range s.handlers {
		mux.Handle(pattern, h)
	}

	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.addr = lis.Addr()
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics HTTP server failed: %v", err)
		}
	}(s.srv, s.done)

	log.Info("serving metrics at http://%s/metrics", s.addr)

	return nil
}

// Address returns the address the server listens at.
func (s *Server) Address() string {
	s.Lock()
	defer s.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.Lock()
	defer s.Unlock()

	if s.srv == nil {
		return nil
	}

	err := s.srv.Shutdown(ctx)
	<-s.done
	s.srv = nil
	s.addr = nil

	return err
}

// WriteTextfile writes the gathered metrics into file in the text
// exposition format.
func WriteTextfile(file string, gatherer prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(file, gatherer); err != nil {
		return fmt.Errorf("metrics: failed to write %s: %w", file, err)
	}
	log.Info("wrote metrics to %s", file)
	return nil
}
