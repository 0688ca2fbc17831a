// Package rpcclient is the small client library spec §2 item 8 calls for:
// reading a daemon's state file and sending ping/shutdown/request with
// deadline-bounded receives and hard byte caps. Grounded directly on
// _examples/original_source/lib/askd_rpc.py.
package rpcclient

import (
	"fmt"
	"net"
	"time"

	"github.com/stefanc-ai2/claude-code-bridge/internal/daemonkit"
	"github.com/stefanc-ai2/claude-code-bridge/internal/rpc"
)

// dialTimeoutCap mirrors askd_rpc.py's socket.create_connection(timeout=min(timeout_s, 2.0)):
// the connect phase never waits longer than 2s even if the caller's overall
// budget is larger.
const dialTimeoutCap = 2 * time.Second

// responseSlack is added to a request's timeout_s when computing the
// client's overall recv deadline, so the daemon's own
// timeout_s+5s-slack wait (spec §4.2) always has a chance to return before
// the client gives up first.
const responseSlack = 5 * time.Second

// noBoundRecvTimeout stands in for "no timeout" (a negative timeout_s,
// spec §6: "negative = no bound") when computing the client's recv
// deadline — askd/daemon.py's own handler blocks on its done_event with
// wait_timeout=None in that case; Go's read deadline needs a concrete
// time, so this is simply a timeout effectively longer than any real
// delegation would take.
const noBoundRecvTimeout = 24 * time.Hour

// ReadState loads a daemon's published state file.
func ReadState(daemonKey string) (daemonkit.State, bool, error) {
	return daemonkit.ReadState(daemonKey)
}

func dialTimeout(budget time.Duration) time.Duration {
	if budget <= 0 || budget > dialTimeoutCap {
		return dialTimeoutCap
	}
	return budget
}

// Ping reports whether the daemon identified by daemonKey answers a ping
// within timeout. False on any error, including "daemon not running" —
// callers use this as a liveness probe, not an error-reporting API.
func Ping(daemonKey, protocolPrefix string, timeout time.Duration) bool {
	st, ok, err := daemonkit.ReadState(daemonKey)
	if err != nil || !ok {
		return false
	}
	conn, err := net.DialTimeout("tcp", addr(st), dialTimeout(timeout))
	if err != nil {
		return false
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	req := rpc.Request{Type: protocolPrefix + ".ping", V: 1, ID: "ping", Token: st.Token}
	if err := rpc.WriteMessage(conn, req); err != nil {
		return false
	}

	var resp rpc.Response
	if err := rpc.DecodeLine(conn, deadline, 1024, &resp); err != nil {
		return false
	}
	wantTypes := map[string]bool{protocolPrefix + ".pong": true, protocolPrefix + ".response": true}
	return wantTypes[resp.Type] && resp.ExitCode == rpc.ExitOK
}

// Shutdown sends a best-effort shutdown request: the send is what matters,
// the response (if any) is read with a short deadline and discarded.
// Returns false only if the daemon isn't running or the request could not
// be sent at all.
func Shutdown(daemonKey, protocolPrefix string, timeout time.Duration) bool {
	st, ok, err := daemonkit.ReadState(daemonKey)
	if err != nil || !ok {
		return false
	}
	conn, err := net.DialTimeout("tcp", addr(st), dialTimeout(timeout))
	if err != nil {
		return false
	}
	defer conn.Close()

	req := rpc.Request{Type: protocolPrefix + ".shutdown", V: 1, ID: "shutdown", Token: st.Token}
	if err := rpc.WriteMessage(conn, req); err != nil {
		return false
	}

	var resp rpc.Response
	_ = rpc.DecodeLine(conn, time.Now().Add(timeout), 1024, &resp) // response optional
	return true
}

// SendRequest dials the daemon, submits req, and waits for the response.
// The overall receive deadline is req.TimeoutS plus a 5s slack (spec §4.2),
// matching the worker pool's own wait-on-done-event slack so the daemon's
// answer normally arrives before the client gives up.
func SendRequest(daemonKey, protocolPrefix string, req rpc.Request) (rpc.Response, error) {
	st, ok, err := daemonkit.ReadState(daemonKey)
	if err != nil {
		return rpc.Response{}, fmt.Errorf("rpcclient: read state: %w", err)
	}
	if !ok {
		return rpc.Response{}, fmt.Errorf("rpcclient: daemon %q is not running", daemonKey)
	}

	budget := noBoundRecvTimeout
	if req.TimeoutS >= 0 {
		budget = time.Duration(req.TimeoutS*float64(time.Second)) + responseSlack
	}
	conn, err := net.DialTimeout("tcp", addr(st), dialTimeout(budget))
	if err != nil {
		return rpc.Response{}, fmt.Errorf("rpcclient: dial %s: %w", addr(st), err)
	}
	defer conn.Close()

	req.Type = protocolPrefix + ".request"
	req.V = 1
	req.Token = st.Token
	if err := rpc.WriteMessage(conn, req); err != nil {
		return rpc.Response{}, fmt.Errorf("rpcclient: write request: %w", err)
	}

	var resp rpc.Response
	if err := rpc.DecodeLine(conn, time.Now().Add(budget), rpc.MaxFrameBytes, &resp); err != nil {
		return rpc.Response{}, fmt.Errorf("rpcclient: read response: %w", err)
	}
	return resp, nil
}

func addr(st daemonkit.State) string {
	host := st.ConnectHost
	if host == "" {
		host = daemonkit.NormalizeConnectHost(st.Host)
	}
	return net.JoinHostPort(host, portString(st.Port))
}

func portString(p int) string {
	return fmt.Sprintf("%d", p)
}
