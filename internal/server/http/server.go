package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/eduwass/transmit-1/pkg/log"
	"github.com/eduwass/transmit-1/pkg/transmit"
)

// StreamContext is the application context attached to HTTP-created streams:
// the query parameters of the connect request, minus the reserved ones.
type StreamContext = map[string]string

// Engine is the push engine as instantiated for HTTP clients.
type Engine = transmit.Transmit[StreamContext]

type Server struct {
	eng    *Engine
	logger log.Logger
	srv    *http.Server
	lis    net.Listener
}

func New(eng *Engine, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewLogger().With(log.Component("http"))
	}
	s := &Server{eng: eng, logger: logger}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors)
	r.Get("/v1/healthz", s.handleHealth)
	r.Get("/v1/events", s.handleEvents)
	r.Post("/v1/subscribe", s.handleSubscribe)
	r.Post("/v1/unsubscribe", s.handleUnsubscribe)
	r.Post("/v1/broadcast", s.handleBroadcast)
	s.srv = &http.Server{Handler: r}
	return s
}

// Handler returns the underlying router. Used by tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("http listening", log.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"streams": s.eng.Manager().Len(),
	})
}

// sseSink adapts a streaming HTTP response into a transmit sink. Every
// message is one SSE event, flushed immediately.
type sseSink struct {
	w http.ResponseWriter
	f http.Flusher
}

func (s sseSink) Write(m transmit.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("event: message\ndata: ")); err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// handleEvents opens the SSE stream for a client. The uid comes from the
// query string; autouid=1 asks the server to mint one, echoed back in the
// X-Transmit-UID header. All other query parameters become the stream's
// context, visible to authorization rules.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uid := q.Get("uid")
	if uid == "" {
		if v := q.Get("autouid"); v == "1" || v == "true" {
			uid = uuid.NewString()
		} else {
			http.Error(w, "uid is required", http.StatusBadRequest)
			return
		}
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sctx := make(StreamContext)
	for k, vs := range q {
		if k == "uid" || k == "autouid" || len(vs) == 0 {
			continue
		}
		sctx[k] = vs[0]
	}

	_, err := s.eng.CreateStream(transmit.CreateStreamParams[StreamContext]{
		UID:     uid,
		Context: sctx,
		Sink:    sseSink{w: w, f: flusher},
		Done:    r.Context().Done(),
	})
	if err != nil {
		if errors.Is(err, transmit.ErrDuplicateStream) {
			http.Error(w, "stream already connected", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Transmit-UID", uid)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	<-r.Context().Done()
}

type subscribeReq struct {
	UID     string        `json:"uid"`
	Channel string        `json:"channel"`
	Context StreamContext `json:"context"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ok := s.eng.Subscribe(r.Context(), transmit.SubscribeParams[StreamContext]{
		UID:     req.UID,
		Channel: req.Channel,
		Context: req.Context,
	})
	if !ok {
		// Refusal (no live stream, or authorization denied) and malformed
		// input map to the same status; the engine never says which.
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	// Removing an absent mapping is not an error for the client.
	s.eng.Unsubscribe(transmit.UnsubscribeParams[StreamContext]{
		UID:     req.UID,
		Channel: req.Channel,
	})
	w.WriteHeader(http.StatusNoContent)
}

type broadcastReq struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.Channel == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var payload any
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}
	s.eng.Broadcast(req.Channel, payload)
	w.WriteHeader(http.StatusAccepted)
}
