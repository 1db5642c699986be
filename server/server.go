// Package server streams the records of a recorder to TCP clients.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jnesss/event-recorder/record"
	"github.com/jnesss/event-recorder/types"
)

// Options configures a Server.
type Options struct {
	Listen string
	Period time.Duration
	Format types.Format

	// Info is sent in the stream header.
	Info []types.Item

	// Snapshot is called after the header was sent to a new client. It
	// records whatever state the client cannot learn from the following
	// events, such as the names of existing threads.
	Snapshot func()
}

// Server serves one client at a time. Each client receives the stream
// header and then, every period, an uptime anchor and all pending items.
type Server struct {
	rec  *record.Recorder
	opts Options
	w    *record.Writer

	mu       sync.Mutex
	listener net.Listener
}

// New creates a server for rec.
func New(rec *record.Recorder, opts Options) (*Server, error) {
	if opts.Period <= 0 {
		return nil, errors.New("period must be positive")
	}
	w, err := record.NewWriter(rec, opts.Format)
	if err != nil {
		return nil, err
	}
	return &Server{rec: rec, opts: opts, w: w}, nil
}

// Listen opens the listening socket. Serve calls it if needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	l, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.opts.Listen)
	}
	s.listener = l
	return nil
}

// Addr returns the listening address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts clients until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	log.WithField("addr", s.listener.Addr()).Info("Record server listening")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return s.listener.Close()
	})
	g.Go(func() error {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "accept failed")
			}
			s.serveConn(ctx, conn)
		}
	})
	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	logger := log.WithField("client", conn.RemoteAddr())
	logger.Info("Record client connected")

	// Items recorded while nobody listened are stale.
	s.w.Reset()
	s.rec.Drain(func([]types.Item) {})

	if _, err := s.w.WriteHeader(conn, s.opts.Info...); err != nil {
		logger.WithError(err).Warn("Record client lost")
		return
	}
	if s.opts.Snapshot != nil {
		s.opts.Snapshot()
	}

	// Closing the connection unblocks a pending write on shutdown.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	ticker := time.NewTicker(s.opts.Period)
	defer ticker.Stop()
	var total int64
	for {
		s.rec.SampleUptime()
		n, _, err := s.w.WriteAll(conn)
		total += n
		if err != nil {
			if ctx.Err() == nil {
				logger.WithError(err).WithField("bytes", total).Warn("Record client lost")
			}
			return
		}
		select {
		case <-ctx.Done():
			logger.WithField("bytes", total).Info("Record client closed")
			return
		case <-ticker.C:
		}
	}
}
