// Package control implements the TCP control channel: a length-prefixed
// request/response loop per connection, dispatching decoded requests
// into ProgramManager operations, plus the Attach streaming session.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"

	"github.com/tdameros/taskmaster-go/internal/config"
	"github.com/tdameros/taskmaster-go/internal/logging"
	"github.com/tdameros/taskmaster-go/internal/manager"
	"github.com/tdameros/taskmaster-go/internal/wire"
)

// ConfigLoader reloads and validates the configuration file; it is the
// Surface's only window onto the external config-loading collaborator.
type ConfigLoader func() (config.Config, error)

// Surface accepts client connections and dispatches their decoded
// requests into a ProgramManager.
type Surface struct {
	manager *manager.ProgramManager
	log     *logging.Logger
	reload  ConfigLoader
}

// New constructs a Surface.
func New(m *manager.ProgramManager, log *logging.Logger, reload ConfigLoader) *Surface {
	return &Surface{manager: m, log: log, reload: reload}
}

// Serve accepts connections on ln until ctx is cancelled or the listener
// errors.
func (s *Surface) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("control: accept: %w", err)
		}
		sessionID := uuid.New().String()
		go s.handleConn(ctx, conn, sessionID)
	}
}

func (s *Surface) handleConn(ctx context.Context, conn net.Conn, sessionID string) {
	defer conn.Close()
	s.log.Infof("session %s: client connected", sessionID)

	for {
		req, err := wire.DecodeRequest(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Infof("session %s: client disconnected", sessionID)
				return
			}
			s.log.Errorf("session %s: decode: %v", sessionID, err)
			return
		}

		if req.Kind == wire.RequestAttach {
			s.handleAttach(ctx, conn, sessionID, req.Name)
			return
		}

		resp := s.dispatch(req)
		if err := wire.EncodeResponse(conn, resp); err != nil {
			s.log.Errorf("session %s: encode: %v", sessionID, err)
			return
		}
	}
}

func (s *Surface) dispatch(req wire.Request) wire.Response {
	switch req.Kind {
	case wire.RequestStatus:
		s.manager.Mu.RLock()
		status := s.manager.GetStatus()
		s.manager.Mu.RUnlock()
		return wire.Status(status)

	case wire.RequestStart:
		s.manager.Mu.Lock()
		err := s.manager.StartProgram(req.Name)
		s.manager.Mu.Unlock()
		return outcome(err, fmt.Sprintf("`%s` started", req.Name), fmt.Sprintf("`%s` could not be started", req.Name))

	case wire.RequestStop:
		s.manager.Mu.Lock()
		err := s.manager.StopProgram(req.Name)
		s.manager.Mu.Unlock()
		return outcome(err, fmt.Sprintf("`%s` stopped", req.Name), fmt.Sprintf("`%s` could not be stopped", req.Name))

	case wire.RequestRestart:
		s.manager.Mu.Lock()
		err := s.manager.RestartProgram(req.Name)
		s.manager.Mu.Unlock()
		return outcome(err, fmt.Sprintf("`%s` restarted", req.Name), fmt.Sprintf("`%s` could not be restarted", req.Name))

	case wire.RequestReload:
		return s.handleReload()

	default:
		return wire.Error(fmt.Sprintf("unsupported request kind %q", req.Kind))
	}
}

func (s *Surface) handleReload() wire.Response {
	newCfg, err := s.reload()
	if err != nil {
		s.log.Errorf("reload: %v", err)
		return wire.Error(fmt.Sprintf("configuration could not be reloaded (%v)", err))
	}
	s.manager.Mu.Lock()
	s.manager.ReloadConfig(newCfg)
	s.manager.Mu.Unlock()
	s.log.Infof("configuration reloaded")
	return wire.Success("configuration reloaded successfully")
}

// handleAttach streams replica-0 stdout lines to conn until the
// broadcast channel closes or a write fails. It forwards lines as soon
// as they arrive, subject only to the broadcast channel's own
// back-pressure — deliberately not replicating a one-second
// inter-line delay some prior implementations of this loop carried.
func (s *Surface) handleAttach(ctx context.Context, conn net.Conn, sessionID, name string) {
	s.manager.Mu.RLock()
	lines, err := s.manager.Subscribe(name)
	s.manager.Mu.RUnlock()
	if err != nil {
		_ = wire.EncodeResponse(conn, wire.Error(fmt.Sprintf("attach %s: %v", name, err)))
		return
	}

	s.log.Infof("session %s: attached to %s", sessionID, name)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := wire.EncodeResponse(conn, wire.RawStream(line)); err != nil {
				s.log.Errorf("session %s: attach write: %v", sessionID, err)
				return
			}
		}
	}
}

func outcome(err error, successMsg, failureMsg string) wire.Response {
	if err == nil {
		return wire.Success(successMsg)
	}
	return wire.Error(fmt.Sprintf("%s (%v)", failureMsg, err))
}
