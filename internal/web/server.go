package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/bit2swaz/loramesh/internal/engine"
	"github.com/bit2swaz/loramesh/internal/protocol"
	"github.com/bit2swaz/loramesh/internal/store"
	"github.com/bit2swaz/loramesh/internal/transport"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

//go:embed static/*
var staticFiles embed.FS

type Engine interface {
	LocalID() protocol.DeviceID
	Send(recipient protocol.DeviceID, text string) (store.Message, error)
	Resend(peer protocol.DeviceID, ts int64) (store.Message, error)
	Snapshot() map[protocol.DeviceID][]store.Message
	Conversation(peer protocol.DeviceID) []store.Message
}

type Server struct {
	db     *gorm.DB
	engine Engine
	port   int
}

func NewServer(db *gorm.DB, eng Engine, port int) *Server {
	return &Server{
		db:     db,
		engine: eng,
		port:   port,
	}
}

func (s *Server) Handler() (http.Handler, error) {
	mux := http.NewServeMux()

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, err
	}
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/conversations", s.handleConversations)
	mux.HandleFunc("GET /api/conversations/{peer}", s.handleConversation)
	mux.HandleFunc("POST /api/messages", s.handlePostMessage)
	mux.HandleFunc("POST /api/resend", s.handleResend)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/peers", s.handlePeers)
	mux.HandleFunc("GET /api/neighbors", s.handleNeighbors)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux, nil
}

func (s *Server) Start(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	slog.Info("Web server starting", "port", s.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	tmpl, err := template.ParseFS(staticFiles, "static/index.html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	tmpl.Execute(w, nil)
}

// handleConversations returns every conversation, or with a recipient
// query parameter from the htmx page, that one conversation as HTML.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("HX-Request") == "true" {
		s.renderConversation(w, protocol.DeviceID(r.URL.Query().Get("recipient")))
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	peer := protocol.DeviceID(r.PathValue("peer"))
	if !peer.Valid() {
		http.Error(w, "invalid device id", http.StatusBadRequest)
		return
	}
	msgs := s.engine.Conversation(peer)
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) renderConversation(w http.ResponseWriter, peer protocol.DeviceID) {
	w.Header().Set("Content-Type", "text/html")
	if !peer.Valid() {
		fmt.Fprint(w, `<div class="pending">Enter a 24 character device id to open a conversation.</div>`)
		return
	}
	local := s.engine.LocalID()
	for _, msg := range s.engine.Conversation(peer) {
		class := ""
		who := msg.Sender.Short()
		if msg.Sender == local {
			class = "me"
			who = "you"
		}
		mark := ""
		if msg.Outgoing && !msg.Confirmed {
			class += " pending"
			mark = " …"
		}
		ts := time.Unix(msg.SentAt, 0).Format("15:04:05")
		fmt.Fprintf(w, `<div class="%s">[%s] %s: %s%s</div>`,
			class, ts, html.EscapeString(who), html.EscapeString(msg.Payload), mark)
	}
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient string `json:"recipient"`
		Text      string `json:"text"`
	}
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		req.Recipient = r.FormValue("recipient")
		req.Text = r.FormValue("text")
	}

	msg, err := s.engine.Send(protocol.DeviceID(req.Recipient), req.Text)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Peer string `json:"peer"`
		TS   int64  `json:"ts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg, err := s.engine.Resend(protocol.DeviceID(req.Peer), req.TS)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	local := s.engine.LocalID()
	status := map[string]interface{}{
		"device_id":  local,
		"relay_only": !local.Valid(),
	}
	if s.db != nil {
		if peers, err := store.GetActivePeers(s.db); err == nil {
			status["active_peers"] = len(peers)
		}
	}
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html")
		id := string(local)
		if id == "" {
			id = "unresolved (relay only)"
		}
		fmt.Fprintf(w, "Device: %s", html.EscapeString(id))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers := []store.Peer{}
	if s.db != nil {
		var err error
		if peers, err = store.GetPeers(s.db); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, peers)
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	neighbors := []store.Neighbor{}
	if s.db != nil {
		var err error
		if neighbors, err = store.GetNeighbors(s.db); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, neighbors)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNoIdentity), errors.Is(err, transport.ErrNoLink):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrEmptyMessage),
		errors.Is(err, engine.ErrPayloadTooLarge),
		errors.Is(err, protocol.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrAlreadyConfirmed):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
