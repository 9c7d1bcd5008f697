package rendezvous

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/vremote/go/clients"
	"github.com/mcdev12/vremote/go/internal/remote"
	"github.com/mcdev12/vremote/go/internal/transport"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Config holds rendezvous server settings.
type Config struct {
	Port           int              `yaml:"port"`
	CodeLength     int              `yaml:"code_length"`
	AllowedOrigins []string         `yaml:"allowed_origins"`
	Transport      transport.Config `yaml:"-"`
}

// DefaultConfig returns the settings used by the local rendezvous service.
func DefaultConfig() Config {
	return Config{
		Port:           3000,
		CodeLength:     4,
		AllowedOrigins: []string{"*"},
		Transport:      transport.DefaultConfig(),
	}
}

// activeChecker is implemented by relays that know which codes are in use.
type activeChecker interface {
	Active(code string) bool
}

// Server serves pair codes and relay sockets.
type Server struct {
	config   Config
	relay    Relay
	upgrader websocket.Upgrader
	started  time.Time

	sockets atomic.Int64
	issued  atomic.Int64
}

// NewServer creates a server backed by relay.
func NewServer(config Config, relay Relay) *Server {
	if config.CodeLength <= 0 || config.CodeLength > 32 {
		config.CodeLength = 4
	}
	if config.Transport == (transport.Config{}) {
		config.Transport = transport.DefaultConfig()
	}
	return &Server{
		config: config,
		relay:  relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are enforced by the CORS layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		started: time.Now(),
	}
}

// Handler returns the routed handler with CORS and h2c applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(clients.PairCodePath, s.handlePairCode)
	mux.HandleFunc(transport.SocketPath, s.handleSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
	mux.HandleFunc("/info", s.handleInfo)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
		},
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

// HTTPServer wraps Handler in an http.Server listening on the configured port.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// NewPairCode returns a short upper-case code.
func (s *Server) NewPairCode() string {
	checker, _ := s.relay.(activeChecker)
	var code string
	for i := 0; i < 5; i++ {
		code = strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:s.config.CodeLength])
		if checker == nil || !checker.Active(code) {
			break
		}
	}
	return code
}

func (s *Server) handlePairCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code := s.NewPairCode()
	s.issued.Add(1)
	log.Debug().Str("pair_code", code).Str("remote_addr", r.RemoteAddr).Msg("issued pair code")

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(clients.PairCodeResponse{PairCode: code}); err != nil {
		log.Error().Err(err).Msg("failed to write pair code response")
	}
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("pairCode")
	if code == "" {
		http.Error(w, "pairCode is required", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("pair_code", code).Msg("failed to upgrade WebSocket connection")
		return
	}
	conn := transport.NewWebSocketConn(ws, s.config.Transport)
	defer conn.Close()

	session, err := s.relay.Join(code, conn)
	if err != nil {
		if errors.Is(err, ErrPairFull) {
			log.Warn().Str("pair_code", code).Str("remote_addr", r.RemoteAddr).Msg("rejecting third peer")
		} else {
			log.Error().Err(err).Str("pair_code", code).Msg("failed to join pair")
		}
		return
	}
	defer session.Leave()

	s.sockets.Add(1)
	defer s.sockets.Add(-1)
	log.Info().Str("pair_code", code).Str("remote_addr", r.RemoteAddr).Msg("peer socket joined")

	for msg := range conn.Recv() {
		// Pairing notifications are issued by the relay only.
		if msg.Type == remote.TypePeerConnect || msg.Type == remote.TypePeerDisconnect {
			continue
		}
		if err := session.Forward(msg); err != nil && !errors.Is(err, ErrNoPeer) {
			log.Debug().Err(err).Str("pair_code", code).Str("type", msg.Type).Msg("failed to forward message")
		}
	}

	log.Info().Str("pair_code", code).Msg("peer socket left")
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	info := map[string]interface{}{
		"service":      "vremote-rendezvous",
		"sockets":      s.sockets.Load(),
		"codes_issued": s.issued.Load(),
		"uptime":       time.Since(s.started).Round(time.Second).String(),
	}
	if err := json.NewEncoder(w).Encode(info); err != nil {
		log.Error().Err(err).Msg("failed to write info response")
	}
}
