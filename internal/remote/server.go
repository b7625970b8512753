package remote

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Executor performs one job and reports the outcome.
type Executor func(ctx context.Context, req Request) Response

// ServerConfig holds configuration for the executor server.
type ServerConfig struct {
	// Name is announced in the greeting.
	Name string

	// Path the websocket endpoint is mounted on (default DefaultPath).
	Path string

	Logger zerolog.Logger
}

// Server accepts worker connections and runs their jobs.
type Server struct {
	exec     Executor
	cfg      ServerConfig
	upgrader websocket.Upgrader
}

// NewServer creates an executor server.
func NewServer(exec Executor, cfg ServerConfig) *Server {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	return &Server{
		exec: exec,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Workers are not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Path returns the endpoint path.
func (s *Server) Path() string { return s.cfg.Path }

// ServeHTTP upgrades the connection and serves requests until the peer
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := s.cfg.Logger.With().Str("peer", r.RemoteAddr).Logger()
	logger.Debug().Msg("worker connected")

	if err := conn.WriteJSON(Hello{Protocol: ProtocolVersion, Server: s.cfg.Name}); err != nil {
		logger.Warn().Err(err).Msg("failed to send greeting")
		return
	}

	ctx := r.Context()
	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("connection closed unexpectedly")
			} else {
				logger.Debug().Msg("worker disconnected")
			}
			return
		}

		logger.Info().
			Str("queue", req.Queue).
			Str("class", req.Payload.Class).
			Str("job_id", req.Payload.ID).
			Msg("executing job")

		resp := s.exec(ctx, req)
		if resp.Status == "" {
			resp.Status = StatusOK
		}
		if err := conn.WriteJSON(resp); err != nil {
			logger.Warn().Err(err).Msg("failed to send response")
			return
		}
	}
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.cfg.Logger.Info().Str("addr", ln.Addr().String()).Str("path", s.cfg.Path).Msg("executor listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Hijacked websocket connections are not tracked by Shutdown.
		srv.Shutdown(shutdownCtx)
		return nil
	}
}
