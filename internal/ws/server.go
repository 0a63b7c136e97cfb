// Package ws pushes the board's filtered view to websocket clients and
// answers typing previews.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/jobboard/jobboard/internal/board"
	"github.com/jobboard/jobboard/internal/querysync"
)

const writeTimeout = 5 * time.Second

type Server struct {
	board  *board.Board
	tags   []string
	logger *slog.Logger

	connsMu sync.RWMutex
	conns   map[string]*websocket.Conn
}

func NewServer(b *board.Board, tags []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		board:  b,
		tags:   tags,
		logger: logger,
		conns:  make(map[string]*websocket.Conn),
	}
}

// Connections returns the number of open feeds.
func (s *Server) Connections() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// CloseAll closes every open feed, as on shutdown.
func (s *Server) CloseAll() {
	s.connsMu.RLock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.RUnlock()

	for _, c := range conns {
		c.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (s *Server) HandleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "goodbye")

	id := uuid.NewString()
	s.connsMu.Lock()
	s.conns[id] = conn
	s.connsMu.Unlock()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, id)
		s.connsMu.Unlock()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	hello := HelloMessage{Type: "hello", ClientID: id, Tags: s.tags}
	if err := write(ctx, conn, hello); err != nil {
		s.logger.Debug("send hello failed", "client_id", id, "error", err)
		return
	}

	views := make(chan board.View, 1)
	replies := make(chan any, 8)
	_, unsubscribe := s.board.Subscribe(func(v board.View) { offer(views, v) })
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		s.writeLoop(ctx, conn, views, replies)
	}()

	s.readLoop(ctx, conn, id, replies)
	cancel()
	wg.Wait()
}

// writeLoop is the only writer after the hello. Views older than the last
// one sent are skipped.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, views <-chan board.View, replies <-chan any) {
	var sent uint64
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-views:
			if v.Version <= sent {
				continue
			}
			msg := ViewMessage{
				Type:      "view",
				Version:   v.Version,
				Total:     v.Total,
				Spec:      v.Spec,
				Jobs:      v.Jobs,
				UpdatedAt: v.UpdatedAt,
			}
			if err := write(ctx, conn, msg); err != nil {
				return
			}
			sent = v.Version
		case msg := <-replies:
			if err := write(ctx, conn, msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, id string, replies chan<- any) {
	box := querysync.NewSearchBox("", s.tags, nil)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				s.logger.Debug("websocket read ended", "client_id", id, "error", err)
			}
			return
		}

		var msg BaseMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.reply(ctx, replies, ErrorMessage{Type: "error", Error: "invalid message format"})
			continue
		}

		switch msg.Type {
		case "ping":
			s.reply(ctx, replies, PongMessage{Type: "pong", Timestamp: time.Now().UTC()})

		case "preview":
			var req PreviewRequest
			if err := json.Unmarshal(data, &req); err != nil {
				s.reply(ctx, replies, ErrorMessage{Type: "error", Error: "invalid preview request"})
				continue
			}
			box.Edit(req.Query)
			matches := box.Preview(s.board.Store().Snapshot())
			s.reply(ctx, replies, PreviewMessage{Type: "preview", Query: req.Query, Jobs: summarize(matches)})

		default:
			s.reply(ctx, replies, ErrorMessage{Type: "error", Error: "unknown message type: " + msg.Type})
		}
	}
}

func (s *Server) reply(ctx context.Context, replies chan<- any, msg any) {
	select {
	case replies <- msg:
	case <-ctx.Done():
	}
}

// offer puts v in a one-slot channel. Whichever of v and the waiting
// view is newer stays.
func offer(ch chan board.View, v board.View) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case old := <-ch:
			if old.Version > v.Version {
				v = old
			}
		default:
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
