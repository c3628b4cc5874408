package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/rs/zerolog/log"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/0xredeth/Quittance/internal/pubsub"
)

// maxRequestBody caps the size of a POSTed query document.
const maxRequestBody = 1 << 20

// Server exposes the GraphQL API, the playground, the WebSocket feed, and
// the health endpoint on one port.
type Server struct {
	httpSrv *http.Server
	exec    *Executor
	feed    *Feed
}

// NewServer wires the API onto the given port. The broadcaster may be nil,
// which disables the /ws feed.
func NewServer(port int, q Querier, b *pubsub.Broadcaster) *Server {
	s := &Server{
		exec: NewExecutor(q),
		feed: NewFeed(b),
	}

	play := playground.Handler("Quittance GraphQL", "/query")

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		play.ServeHTTP(w, r)
	})
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			play.ServeHTTP(w, r)
		case http.MethodPost:
			s.handleQuery(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.Handle("/ws", s.feed)
	mux.HandleFunc("/healthz", handleHealthz)

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's routing table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpSrv.Addr).Msg("graphql server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("graphql server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req Request
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{
			Errors: gqlerror.List{gqlerror.Errorf("decoding request: %s", err.Error())},
		})
		return
	}

	resp := s.exec.Execute(r.Context(), req)
	writeJSON(w, http.StatusOK, resp)
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("writing graphql response")
	}
}
