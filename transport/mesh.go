// Package transport implements the full-mesh, ordered point-to-point
// channel every rank communicates over: one websocket connection per
// peer pair, each message sent as a small Envelope frame optionally
// followed by a payload frame (SPEC_FULL.md §3.1).
package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	jsoniter "github.com/json-iterator/go"

	"github.com/taskmesh/taskmesh/internal/logging"
	"github.com/taskmesh/taskmesh/wire"
)

var envAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Message is a received Envelope plus its payload frame, if any.
type Message struct {
	Envelope wire.Envelope
	Payload  []byte
}

// Mesh is the all-to-all set of peer connections for one rank. Dial
// once at startup; a transport error at any point is fatal to the
// process (spec §4.1 — no reconnect logic is implemented).
type Mesh struct {
	rank  uint32
	hosts []string
	log   *logging.Logger

	mu    sync.RWMutex
	peers map[uint32]*peerConn

	incoming chan Message

	diversionMu sync.Mutex
	diversion   map[uint32]chan Message

	listener net.Listener
}

// peerConn owns one websocket connection to another rank: a single
// writer goroutine serializes outbound frames (WriteMessage is not
// safe for concurrent callers on the same *websocket.Conn), and a
// single reader goroutine decodes inbound envelope/payload pairs and
// forwards them to the mesh.
type peerConn struct {
	rank uint32
	conn *websocket.Conn

	writeMu sync.Mutex
	outbox  chan outboundFrame
}

type outboundFrame struct {
	env     wire.Envelope
	payload []byte
	done    chan error
}

// NewMesh constructs a Mesh for rank among hosts (hosts[i] is rank i's
// listen address). It does not dial; call DialAll or Listen depending
// on the rank's role in the bring-up handshake.
func NewMesh(rank uint32, hosts []string, log *logging.Logger) *Mesh {
	return &Mesh{
		rank:      rank,
		hosts:     hosts,
		log:       log.WithRank(rank),
		peers:     make(map[uint32]*peerConn),
		incoming:  make(chan Message, 256),
		diversion: make(map[uint32]chan Message),
	}
}

// Listen starts accepting inbound connections on this rank's own host
// entry. Every accepted connection is read until the peer identifies
// itself with a HELLO frame (Envelope.From), at which point it is
// registered as that rank's peerConn.
func (m *Mesh) Listen(ctx context.Context) error {
	addr := m.hosts[m.rank]
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	m.listener = ln

	srv := &http.Server{}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			m.log.Errorf("upgrade failed: %v", err)
			return
		}
		m.acceptHandshake(ctx, conn)
	})
	srv.Handler = mux

	go func() {
		if err := srv.Serve(ln); err != nil && ctx.Err() == nil {
			m.log.Errorf("listener stopped: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	return nil
}

func (m *Mesh) acceptHandshake(ctx context.Context, conn *websocket.Conn) {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		m.log.Errorf("handshake read failed: %v", err)
		conn.Close()
		return
	}
	var hello wire.Envelope
	if err := envAPI.Unmarshal(raw, &hello); err != nil {
		m.log.Errorf("handshake decode failed: %v", err)
		conn.Close()
		return
	}
	m.register(ctx, hello.From, conn)
}

// DialAll connects to every rank listed in hosts whose address this
// rank does not already accept a connection from, identifying itself
// with a HELLO envelope. Call after Listen has started accepting.
func (m *Mesh) DialAll(ctx context.Context, dialTimeout time.Duration) error {
	for rank, addr := range m.hosts {
		r := uint32(rank)
		if r == m.rank {
			continue
		}
		if r < m.rank {
			// The lower-ranked peer dials; the higher-ranked peer
			// accepts, so every pair connects exactly once.
			continue
		}
		conn, err := m.dialWithRetry(ctx, addr, dialTimeout)
		if err != nil {
			return fmt.Errorf("transport: dial rank %d at %s: %w", r, addr, err)
		}
		hello := wire.Envelope{From: m.rank}
		raw, err := envAPI.Marshal(hello)
		if err != nil {
			return fmt.Errorf("transport: encode hello: %w", err)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
			return fmt.Errorf("transport: send hello to rank %d: %w", r, err)
		}
		m.register(ctx, r, conn)
	}
	return nil
}

// dialWithRetry dials addr, retrying on connection refusal (the
// listening rank may not have called Listen yet — ranks in a cluster
// launch start independently, with no ordering guarantee) until
// overallTimeout elapses.
func (m *Mesh) dialWithRetry(ctx context.Context, addr string, overallTimeout time.Duration) (*websocket.Conn, error) {
	deadline := time.Now().Add(overallTimeout)
	for {
		dialCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, "ws://"+addr+"/", nil)
		cancel()
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Mesh) register(ctx context.Context, rank uint32, conn *websocket.Conn) {
	pc := &peerConn{rank: rank, conn: conn, outbox: make(chan outboundFrame, 64)}
	m.mu.Lock()
	m.peers[rank] = pc
	m.mu.Unlock()

	go m.writeLoop(pc)
	go m.readLoop(ctx, pc)
}

func (m *Mesh) writeLoop(pc *peerConn) {
	for f := range pc.outbox {
		err := pc.conn.WriteMessage(websocket.BinaryMessage, mustEncode(f.env))
		if err == nil && len(f.payload) > 0 {
			err = pc.conn.WriteMessage(websocket.BinaryMessage, f.payload)
		}
		if f.done != nil {
			f.done <- err
		}
		if err != nil {
			m.log.Errorf("write to rank %d failed: %v", pc.rank, err)
			return
		}
	}
}

func mustEncode(env wire.Envelope) []byte {
	raw, err := envAPI.Marshal(env)
	if err != nil {
		// Envelope is a plain struct of ids and primitives; a marshal
		// failure here means a programming error, not a runtime
		// condition callers can recover from.
		panic(fmt.Sprintf("transport: envelope marshal: %v", err))
	}
	return raw
}

func (m *Mesh) readLoop(ctx context.Context, pc *peerConn) {
	for {
		_, raw, err := pc.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				m.log.Errorf("read from rank %d failed: %v", pc.rank, err)
			}
			return
		}
		var env wire.Envelope
		if err := envAPI.Unmarshal(raw, &env); err != nil {
			m.log.Errorf("decode envelope from rank %d failed: %v", pc.rank, err)
			return
		}
		var payload []byte
		if env.PayloadLen > 0 {
			_, payload, err = pc.conn.ReadMessage()
			if err != nil {
				m.log.Errorf("read payload from rank %d failed: %v", pc.rank, err)
				return
			}
		}
		msg := Message{Envelope: env, Payload: payload}
		if !m.deliverToDiversion(env.From, msg) {
			select {
			case m.incoming <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *Mesh) deliverToDiversion(from uint32, msg Message) bool {
	m.diversionMu.Lock()
	ch, ok := m.diversion[from]
	m.diversionMu.Unlock()
	if !ok {
		return false
	}
	ch <- msg
	return true
}

// Send blocks until env (and payload, if non-empty) have been written
// to rank's connection.
func (m *Mesh) Send(ctx context.Context, rank uint32, env wire.Envelope, payload []byte) error {
	pc, err := m.peer(rank)
	if err != nil {
		return err
	}
	env.From = m.rank
	env.PayloadLen = len(payload)
	done := make(chan error, 1)
	select {
	case pc.outbox <- outboundFrame{env: env, payload: payload, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mesh) peer(rank uint32) (*peerConn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pc, ok := m.peers[rank]
	if !ok {
		return nil, fmt.Errorf("transport: no connection to rank %d", rank)
	}
	return pc, nil
}

// Incoming returns the shared channel that the monitor loop and every
// worker's poll step read unsolicited messages from.
func (m *Mesh) Incoming() <-chan Message { return m.incoming }

// RecvFrom diverts the next message from rank away from Incoming and
// returns it directly. Only the controller uses this: it never
// receives unsolicited pushes, and its blocking verbs (Get, Wait) each
// own the whole controller goroutine while they wait, so no concurrent
// RecvFrom on the same peer can race (spec §5 suspension points).
func (m *Mesh) RecvFrom(ctx context.Context, rank uint32) (Message, error) {
	ch := make(chan Message, 1)
	m.diversionMu.Lock()
	m.diversion[rank] = ch
	m.diversionMu.Unlock()
	defer func() {
		m.diversionMu.Lock()
		delete(m.diversion, rank)
		m.diversionMu.Unlock()
	}()

	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close tears down every peer connection.
func (m *Mesh) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, pc := range m.peers {
		close(pc.outbox)
		if err := pc.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.listener != nil {
		if err := m.listener.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
