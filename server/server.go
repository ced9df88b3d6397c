package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/xhad/docchat/pkg/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is the frame exchanged over the WebSocket. Inbound types are
// "ingest" (Data carries {"paths": [...]}) and "query" (Content carries the
// question). Outbound types are "status", "progress", "stream", "result"
// and "error".
type Message struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type ingestRequest struct {
	Paths []string `json:"paths"`
}

// WSServer exposes the ingest and query pipelines over a WebSocket.
type WSServer struct {
	pipeline *pipeline.Pipeline
}

func NewWSServer(p *pipeline.Pipeline) *WSServer {
	return &WSServer{pipeline: p}
}

// Run serves the WebSocket API on addr until the listener fails.
func Run(addr string, p *pipeline.Pipeline) error {
	server := NewWSServer(p)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	log.Printf("Starting WebSocket server on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Gorilla connections allow one concurrent writer; handlers run in
	// goroutines and share this lock through safeConn.
	sc := &safeConn{conn: conn}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Error reading message: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			sc.send("error", "invalid message: "+err.Error())
			continue
		}

		go s.handleMessage(r.Context(), sc, msg)
	}
}

func (s *WSServer) handleMessage(ctx context.Context, sc *safeConn, msg Message) {
	switch msg.Type {
	case "ingest":
		s.handleIngest(ctx, sc, msg)
	case "query":
		s.handleQuery(ctx, sc, msg)
	default:
		sc.send("error", "unknown message type: "+msg.Type)
	}
}

func (s *WSServer) handleIngest(ctx context.Context, sc *safeConn, msg Message) {
	var req ingestRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		sc.send("error", "invalid ingest request: "+err.Error())
		return
	}
	if len(req.Paths) == 0 {
		sc.send("error", "no paths given")
		return
	}

	sc.send("status", "ingesting")

	result, err := s.pipeline.Ingest(ctx, req.Paths, func(ev pipeline.IngestEvent) {
		if ev.File == "" {
			return
		}
		sc.send("progress", string(ev.Step)+" "+string(ev.State)+": "+ev.File)
	})
	if err != nil {
		sc.send("error", err.Error())
		return
	}

	sc.sendResult(map[string]any{
		"files_total":   result.FilesTotal,
		"files_usable":  result.FilesUsable,
		"files_failed":  result.FilesFailed,
		"failed_files":  result.FailedFiles,
		"chunks_total":  result.ChunksTotal,
		"points_stored": result.PointsStored,
	})
}

func (s *WSServer) handleQuery(ctx context.Context, sc *safeConn, msg Message) {
	question := strings.TrimSpace(msg.Content)
	if question == "" {
		sc.send("error", "empty question")
		return
	}

	result, err := s.pipeline.Query(ctx, question,
		func(stage pipeline.Stage) { sc.send("status", string(stage)) },
		func(token string) { sc.send("stream", token) })
	if err != nil {
		sc.send("error", err.Error())
		return
	}

	sc.sendResult(map[string]any{
		"answer":  result.Answer,
		"sources": result.Sources,
	})
}

type safeConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (sc *safeConn) send(msgType, content string) {
	sc.write(Message{Type: msgType, Content: content})
}

func (sc *safeConn) sendResult(data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		sc.send("error", err.Error())
		return
	}
	sc.write(Message{Type: "result", Data: raw})
}

func (sc *safeConn) write(msg Message) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.conn.WriteJSON(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}
