package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"adgobye.dev/internal/content"
	"adgobye.dev/internal/live"
	"adgobye.dev/internal/metrics"
	"adgobye.dev/internal/observerproto"
	"adgobye.dev/internal/patcher"
)

// StateFunc reports the current bootstrap state.
type StateFunc func(ctx context.Context) observerproto.BootstrapResponse

type subscriber struct {
	mu     sync.Mutex
	topics []string
	out    chan []byte
}

func (s *subscriber) wants(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.topics, topic)
}

func (s *subscriber) setTopics(t []string) {
	s.mu.Lock()
	s.topics = t
	s.mu.Unlock()
}

// Server fans gate, index and patch events out to loopback websocket
// clients. Slow clients lose messages rather than stall publishers.
type Server struct {
	state   StateFunc
	log     *slog.Logger
	metrics *metrics.Metrics

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.Mutex
	subs map[string]*subscriber
}

func NewServer(state StateFunc, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		state:   state,
		log:     logger.With("component", "observer"),
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			// Loopback only; any local page may watch.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subs: map[string]*subscriber{},
	}
}

func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Publish sends msg to every client subscribed to topic.
func (s *Server) Publish(topic string, msg any) {
	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("encode observer message", "topic", topic, "err", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		if !sub.wants(topic) {
			continue
		}
		select {
		case sub.out <- b:
		default:
			s.metrics.ObserverDropped()
			s.log.Debug("observer client not reading, dropped message", "session", id, "topic", topic)
		}
	}
}

func (s *Server) PublishGate(open bool) {
	s.Publish(observerproto.TopicGate, observerproto.GateMsg{
		Type:            observerproto.TypeGate,
		ProtocolVersion: observerproto.Version,
		Open:            open,
		Time:            time.Now().UTC(),
	})
}

// Indexed publishes an INDEX message. c is nil for removals.
func (s *Server) Indexed(kind live.EventKind, path string, c *content.Content) {
	msg := observerproto.IndexMsg{
		Type:            observerproto.TypeIndex,
		ProtocolVersion: observerproto.Version,
		Event:           kind.String(),
		Path:            path,
	}
	if c != nil {
		msg.ContentID = c.ID
		msg.StableName = c.StableName
		msg.ContentType = c.Type.String()
		msg.Version = c.VersionMeta.Version
	}
	s.Publish(observerproto.TopicIndex, msg)
}

func (s *Server) Patched(c content.Content, out patcher.Outcome) {
	msg := observerproto.PatchMsg{
		Type:            observerproto.TypePatch,
		ProtocolVersion: observerproto.Version,
		Session:         out.Session,
		ContentID:       c.ID,
		Status:          string(out.Status),
		Plugins:         out.Plugins,
		PatchedBy:       out.PatchedBy,
		Disabled:        out.Disabled,
		Unmatched:       len(out.Unmatched),
		Backup:          out.Backup,
	}
	if out.Aborted != nil {
		msg.Aborted = out.Aborted.Error()
	}
	s.Publish(observerproto.TopicPatch, msg)
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := s.snapshot(r.Context())
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) snapshot(ctx context.Context) observerproto.BootstrapResponse {
	var resp observerproto.BootstrapResponse
	if s.state != nil {
		resp = s.state(ctx)
	}
	resp.ProtocolVersion = observerproto.Version
	return resp
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		topics, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		sub := &subscriber{topics: topics, out: make(chan []byte, 256)}
		hello, _ := json.Marshal(observerproto.HelloMsg{
			Type:            observerproto.TypeHello,
			ProtocolVersion: observerproto.Version,
			SessionID:       sid,
			Topics:          topics,
			GateOpen:        s.snapshot(r.Context()).GateOpen,
		})
		sub.out <- hello
		s.join(sid, sub)
		defer s.leave(sid)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-sub.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if topics, ok := parseSubscribe(msg); ok {
				sub.setTopics(topics)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) join(sid string, sub *subscriber) {
	s.mu.Lock()
	s.subs[sid] = sub
	n := len(s.subs)
	s.mu.Unlock()
	s.metrics.SetObservers(n)
	s.log.Info("observer connected", "session", sid)
}

func (s *Server) subscriber(sid string) *subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[sid]
}

func (s *Server) leave(sid string) {
	s.mu.Lock()
	delete(s.subs, sid)
	n := len(s.subs)
	s.mu.Unlock()
	s.metrics.SetObservers(n)
	s.log.Info("observer disconnected", "session", sid)
}

// parseSubscribe validates a SUBSCRIBE message and returns its normalized
// topics.
func parseSubscribe(msg []byte) ([]string, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return nil, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return nil, false
	}
	return normalizeTopics(sub.Topics), true
}

func normalizeTopics(in []string) []string {
	var out []string
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if slices.Contains(observerproto.AllTopics, t) && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return slices.Clone(observerproto.AllTopics)
	}
	return out
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
