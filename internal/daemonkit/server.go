package daemonkit

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/stefanc-ai2/claude-code-bridge/internal/rpc"
)

// RequestHandler processes one decoded "<prefix>.request" message and
// returns the response to write back. It must not panic; Server recovers
// and converts a panic into an exit_code=1 response anyway, but handlers
// should prefer returning an error-shaped Response.
type RequestHandler func(req rpc.Request) rpc.Response

// Spec names the protocol this daemon speaks (spec §4.4: message types are
// named "<prefix>.ping"/"<prefix>.pong"/"<prefix>.shutdown"/"<prefix>.request"/
// "<prefix>.response" where prefix is one of ask/cask/gask/oask for the
// per-provider daemons).
type Spec struct {
	DaemonKey      string // run-dir file stem: "askd", "caskd", ...
	ProtocolPrefix string // "ask", "cask", "gask", "oask"
	IdleTimeoutEnv string // env var overriding the 60s default idle timeout
}

func (s Spec) pongType() string     { return s.ProtocolPrefix + ".pong" }
func (s Spec) responseType() string { return s.ProtocolPrefix + ".response" }
func (s Spec) pingType() string     { return s.ProtocolPrefix + ".ping" }
func (s Spec) shutdownType() string { return s.ProtocolPrefix + ".shutdown" }
func (s Spec) requestType() string  { return s.ProtocolPrefix + ".request" }

// Server is the uniform daemon server described by spec §4.4: a
// token-gated, single-instance TCP loopback acceptor with idle and
// parent-pid supervision, publishing its address and dying cleanly.
type Server struct {
	Spec             Spec
	Host             string // bind host, default 127.0.0.1
	Port             int    // 0 = pick any free port
	Token            string
	RequestHandler   RequestHandler
	RequestQueueSize int // not read by ListenAndServe; the listener uses the OS default backlog
	OnStop           func()
	ParentPID        int
	Managed          bool
	WorkDir          string
	Logger           *slog.Logger

	shutdownOnce sync.Once
	ln           net.Listener
	idle         *IdleMonitor
	parent       *ParentMonitor
}

// requestReadTimeout bounds how long a single connection is given to send
// its one line of JSON. The wire protocol itself has no such deadline;
// this guards the accept loop against a client that connects and never
// writes.
const requestReadTimeout = 30 * time.Second

// ListenAndServe acquires the single-instance lock, binds, publishes the
// state file, and serves until shutdown. Returns 2 immediately (without
// touching the state file) if another instance already holds the lock,
// matching spec §4.4's "Single-instance" behavior.
func (s *Server) ListenAndServe() (int, error) {
	if err := os.MkdirAll(RunDir(), 0o755); err != nil {
		return 1, fmt.Errorf("daemonkit: create run dir: %w", err)
	}

	lock := NewLock(s.Spec.DaemonKey)
	ok, err := lock.TryAcquire()
	if err != nil {
		return 1, err
	}
	if !ok {
		return 2, nil
	}
	defer lock.Release()

	host := s.Host
	if host == "" {
		host = "127.0.0.1"
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, s.Port))
	if err != nil {
		return 1, fmt.Errorf("daemonkit: listen: %w", err)
	}
	s.ln = ln
	defer ln.Close()

	idleTimeout := 60 * time.Second
	if s.Spec.IdleTimeoutEnv != "" {
		if raw := os.Getenv(s.Spec.IdleTimeoutEnv); raw != "" {
			if secs, perr := parseSeconds(raw); perr == nil {
				idleTimeout = secs
			}
		}
	}
	if s.Managed {
		idleTimeout = 0
	}
	s.idle = NewIdleMonitor(idleTimeout)
	s.parent = NewParentMonitor(s.ParentPID)

	addr := ln.Addr().(*net.TCPAddr)
	if err := s.writeState(addr.IP.String(), addr.Port); err != nil {
		return 1, err
	}
	s.logInfo(fmt.Sprintf("%s started pid=%d addr=%s:%d", s.Spec.DaemonKey, os.Getpid(), addr.IP.String(), addr.Port))

	go s.idle.Run(func() {
		s.logInfo(fmt.Sprintf("%s idle timeout reached; shutting down", s.Spec.DaemonKey))
		s.shutdown()
	})
	go s.parent.Run(func() {
		s.logInfo(fmt.Sprintf("%s parent pid %d exited; shutting down", s.Spec.DaemonKey, s.ParentPID))
		s.shutdown()
	})

	s.acceptLoop(ln)

	if err := RemoveStateIfOwned(s.Spec.DaemonKey); err != nil {
		s.logError(fmt.Sprintf("%s: remove state file: %v", s.Spec.DaemonKey, err))
	}
	s.logInfo(fmt.Sprintf("%s stopped", s.Spec.DaemonKey))
	if s.OnStop != nil {
		s.OnStop()
	}
	return 0, nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return // listener closed by shutdown()
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	s.idle.BeginRequest()
	defer s.idle.EndRequest()

	var msg rpc.Request
	deadline := time.Now().Add(requestReadTimeout)
	if err := rpc.DecodeLine(conn, deadline, rpc.MaxFrameBytes, &msg); err != nil {
		return
	}

	if msg.Token != s.Token {
		s.write(conn, rpc.Response{Type: s.Spec.responseType(), V: 1, ID: msg.ID, ExitCode: rpc.ExitError, Reply: "Unauthorized"})
		return
	}

	switch msg.Type {
	case s.Spec.pingType():
		s.write(conn, rpc.Response{Type: s.Spec.pongType(), V: 1, ID: msg.ID, ExitCode: rpc.ExitOK, Reply: "OK"})
	case s.Spec.shutdownType():
		s.write(conn, rpc.Response{Type: s.Spec.responseType(), V: 1, ID: msg.ID, ExitCode: rpc.ExitOK, Reply: "OK"})
		go s.shutdown()
	case s.Spec.requestType():
		s.handleRequest(conn, msg)
	default:
		s.write(conn, rpc.Response{Type: s.Spec.responseType(), V: 1, ID: msg.ID, ExitCode: rpc.ExitError, Reply: "Invalid request"})
	}
}

func (s *Server) handleRequest(conn net.Conn, msg rpc.Request) {
	resp, ok := s.callHandlerSafely(msg)
	if !ok {
		s.write(conn, rpc.Response{Type: s.Spec.responseType(), V: 1, ID: msg.ID, ExitCode: rpc.ExitError, Reply: "Internal error"})
		return
	}
	s.write(conn, resp)
}

func (s *Server) callHandlerSafely(msg rpc.Request) (resp rpc.Response, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logError(fmt.Sprintf("request handler panic: %v", r))
			ok = false
		}
	}()
	return s.RequestHandler(msg), true
}

func (s *Server) write(conn net.Conn, resp rpc.Response) {
	if err := rpc.WriteMessage(conn, resp); err == nil {
		s.idle.Touch()
	}
}

// Shutdown stops the accept loop and supervision goroutines, causing a
// blocked ListenAndServe call to return. Safe to call from a signal
// handler; safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdown()
}

func (s *Server) shutdown() {
	s.shutdownOnce.Do(func() {
		if s.idle != nil {
			s.idle.Stop()
		}
		if s.parent != nil {
			s.parent.Stop()
		}
		if s.ln != nil {
			s.ln.Close()
		}
	})
}

func (s *Server) writeState(host string, port int) error {
	st := State{
		PID:         os.Getpid(),
		Host:        host,
		ConnectHost: NormalizeConnectHost(host),
		Port:        port,
		Token:       s.Token,
		StartedAt:   NewStartedAt(time.Now()),
		ParentPID:   s.ParentPID,
		Managed:     s.Managed,
		WorkDir:     s.WorkDir,
	}
	if exe, err := os.Executable(); err == nil {
		st.BinaryPath = exe
	}
	return WriteState(s.Spec.DaemonKey, st)
}

func (s *Server) logInfo(msg string) {
	if s.Logger != nil {
		s.Logger.Info(msg)
	}
}

func (s *Server) logError(msg string) {
	if s.Logger != nil {
		s.Logger.Error(msg)
	}
}

func parseSeconds(raw string) (time.Duration, error) {
	var secs float64
	if _, err := fmt.Sscanf(raw, "%f", &secs); err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}
