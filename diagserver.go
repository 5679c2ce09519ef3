package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"tuning-service/tuning"
)

const diagBroadcastPeriod = 500 * time.Millisecond

// DiagSnapshot is the JSON structure sent to all websocket clients.
type DiagSnapshot struct {
	State      string              `json:"state"`
	Mode       string              `json:"mode"`
	Generation string              `json:"generation"`
	Status     tuning.SystemStatus `json:"status"`
	Stats      tuning.SignalStats  `json:"stats"`
	Health     tuning.HealthStatus `json:"health"`
	Stamp      int64               `json:"stamp"` // Unix ms
}

// DiagServer broadcasts periodic diagnostic snapshots to websocket clients.
// Read-only by design; control stays on the IPC path.
type DiagServer struct {
	addr     string
	snapshot func() DiagSnapshot

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex
	upgrader  websocket.Upgrader

	srv    *http.Server
	ctx    context.Context
	cancel context.CancelFunc
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewDiagServer(addr string, snapshot func() DiagSnapshot) *DiagServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &DiagServer{
		addr:     addr,
		snapshot: snapshot,
		clients:  make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *DiagServer) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/status", s.handleStatus)

	s.srv = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	go s.broadcastLoop()

	go func() {
		log.Infof("[DIAG] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("[DIAG] server error: %v", err)
		}
	}()
}

func (s *DiagServer) Stop() {
	s.cancel()
	if s.srv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}
}

func (s *DiagServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.snapshot()
	snap.Stamp = time.Now().UnixMilli()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (s *DiagServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("[DIAG] websocket upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 16),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()

	log.Infof("[DIAG] client connected (%d total)", total)

	// Immediate first snapshot so new clients don't wait a full period.
	snap := s.snapshot()
	snap.Stamp = time.Now().UnixMilli()
	if data, err := json.Marshal(snap); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine, drains keep-alives and detects disconnect
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			total := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Infof("[DIAG] client disconnected (%d total)", total)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *DiagServer) broadcastLoop() {
	ticker := time.NewTicker(diagBroadcastPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.clientsMu.RLock()
			empty := len(s.clients) == 0
			s.clientsMu.RUnlock()
			if empty {
				continue
			}

			snap := s.snapshot()
			snap.Stamp = time.Now().UnixMilli()
			data, err := json.Marshal(snap)
			if err != nil {
				continue
			}

			s.clientsMu.RLock()
			for client := range s.clients {
				select {
				case client.send <- data:
				default:
					// Client too slow, skip
				}
			}
			s.clientsMu.RUnlock()
		}
	}
}
