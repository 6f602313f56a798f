// Package server wires the store, the fanout backplane, the socket hub and
// the services into one HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pliu/huddle/internal/auth"
	"github.com/pliu/huddle/internal/config"
	"github.com/pliu/huddle/internal/email"
	"github.com/pliu/huddle/internal/fanout"
	"github.com/pliu/huddle/internal/handlers"
	"github.com/pliu/huddle/internal/messages"
	"github.com/pliu/huddle/internal/middleware"
	"github.com/pliu/huddle/internal/presence"
	"github.com/pliu/huddle/internal/requests"
	"github.com/pliu/huddle/internal/social"
	"github.com/pliu/huddle/internal/store/sqlstore"
	"github.com/pliu/huddle/internal/ws"
)

type Server struct {
	cfg   *config.Config
	log   *slog.Logger
	store *sqlstore.SQLStore
	bp    fanout.Backplane
	hub   *ws.Hub

	Auth     *auth.Service
	Graph    *social.Service
	Requests *requests.Service
	Presence *presence.Manager
	Messages *messages.Service

	router http.Handler
}

// New opens the store, connects the backplane and builds every service.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st, err := sqlstore.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	bp, err := newBackplane(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	s := &Server{cfg: cfg, log: logger, store: st, bp: bp, hub: ws.NewHub(logger)}
	if err := bp.Subscribe(s.hub); err != nil {
		s.Close()
		return nil, fmt.Errorf("subscribe hub: %w", err)
	}

	emitter := fanout.NewEmitter(bp, logger)
	s.Auth = auth.NewService(st, cfg.Auth.Secret, cfg.Auth.TokenTTL, logger)
	s.Graph = social.NewService(st, emitter, logger)
	s.Requests = requests.NewService(st, s.Graph, emitter, cfg.Requests.TTL, logger)
	s.Requests.SetNotifier(email.NewSender(cfg.Email.Host, cfg.Email.Port,
		cfg.Email.Username, cfg.Email.Password, cfg.Email.From, logger))
	s.Presence = presence.NewManager(st, emitter, s.hub, s.Auth, logger)
	s.Messages = messages.NewService(st, s.Graph, emitter, logger)
	s.Messages.SetLimits(cfg.Messages.DefaultLimit, cfg.Messages.MaxLimit)

	s.router = s.routes()
	return s, nil
}

func newBackplane(cfg *config.Config, logger *slog.Logger) (fanout.Backplane, error) {
	if cfg.NATS.URL == "" {
		return fanout.NewLocal(), nil
	}
	hostname, _ := os.Hostname()
	bp, err := fanout.DialNATS(cfg.NATS.URL, cfg.NATS.Subject, "huddle-"+hostname, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("using nats backplane", "url", cfg.NATS.URL, "subject", cfg.NATS.Subject)
	return bp, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() http.Handler {
	authHandler := &handlers.AuthHandler{Auth: s.Auth, Presence: s.Presence, Graph: s.Graph}
	userHandler := &handlers.UserHandler{Graph: s.Graph}
	groupHandler := &handlers.GroupHandler{Graph: s.Graph}
	requestHandler := &handlers.RequestHandler{Requests: s.Requests}
	messageHandler := &handlers.MessageHandler{Messages: s.Messages}
	gateway := ws.NewGateway(s.hub, s.Auth, s.Presence, s.Messages, s.Requests, s.cfg.Auth.GracePeriod, s.log)

	r := mux.NewRouter()
	r.Use(middleware.Logging(s.log))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	r.HandleFunc("/auth/register", authHandler.Register).Methods("POST")
	r.HandleFunc("/auth/login", authHandler.Login).Methods("POST")
	r.Handle("/ws", gateway).Methods("GET")

	api := r.NewRoute().Subrouter()
	api.Use(middleware.AuthMiddleware(s.Auth))

	api.HandleFunc("/auth/me", authHandler.Me).Methods("GET")
	api.HandleFunc("/auth/sessions", authHandler.LogoutAll).Methods("DELETE")

	api.HandleFunc("/users/search", userHandler.SearchUsers).Methods("GET")
	api.HandleFunc("/users/me/username", userHandler.Rename).Methods("PUT")
	api.HandleFunc("/users/me/password", authHandler.ChangePassword).Methods("PUT")
	api.HandleFunc("/users/me/friends", userHandler.Friends).Methods("GET")
	api.HandleFunc("/users/me/friends/{id}", userHandler.Unfriend).Methods("DELETE")
	api.HandleFunc("/users/me/friends/{id}/sync", userHandler.ResyncFriend).Methods("PUT")
	api.HandleFunc("/users/me/groups", userHandler.Groups).Methods("GET")
	api.HandleFunc("/users/me/groups/owned", userHandler.OwnedGroups).Methods("GET")
	api.HandleFunc("/users/me/groups/{groupId}/sync", userHandler.ResyncGroup).Methods("PUT")

	api.HandleFunc("/groups", groupHandler.CreateGroup).Methods("POST")
	api.HandleFunc("/groups/search", groupHandler.SearchGroups).Methods("GET")
	api.HandleFunc("/groups/{id}", groupHandler.GetGroup).Methods("GET")
	api.HandleFunc("/groups/{id}", groupHandler.UpdateGroup).Methods("PUT")
	api.HandleFunc("/groups/{id}", groupHandler.DeleteGroup).Methods("DELETE")
	api.HandleFunc("/groups/{id}/join", groupHandler.JoinGroup).Methods("POST")
	api.HandleFunc("/groups/{id}/membership", groupHandler.LeaveGroup).Methods("DELETE")
	api.HandleFunc("/groups/{id}/members", groupHandler.Members).Methods("GET")
	api.HandleFunc("/groups/{id}/members/{userId}", groupHandler.KickMember).Methods("DELETE")

	api.HandleFunc("/requests/friend", requestHandler.FriendRequest).Methods("POST")
	api.HandleFunc("/requests/group", requestHandler.GroupRequest).Methods("POST")
	api.HandleFunc("/requests/invitation", requestHandler.Invitation).Methods("POST")
	api.HandleFunc("/requests/sent", requestHandler.Sent).Methods("GET")
	api.HandleFunc("/requests/received", requestHandler.Received).Methods("GET")
	api.HandleFunc("/requests/{id}/accept", requestHandler.Accept).Methods("PUT")
	api.HandleFunc("/requests/{id}/decline", requestHandler.Decline).Methods("PUT")
	api.HandleFunc("/requests/{id}", requestHandler.Withdraw).Methods("DELETE")
	api.HandleFunc("/requests", requestHandler.WithdrawAll).Methods("DELETE")

	api.HandleFunc("/messages/direct/{userId}", messageHandler.Direct).Methods("GET")
	api.HandleFunc("/messages/direct/{userId}", messageHandler.DeleteDirect).Methods("DELETE")
	api.HandleFunc("/messages/group/{groupId}", messageHandler.Group).Methods("GET")
	api.HandleFunc("/messages/group/{groupId}", messageHandler.DeleteGroup).Methods("DELETE")
	api.HandleFunc("/messages/{id}", messageHandler.Delete).Methods("DELETE")

	return r
}

// ListenAndServe runs until SIGINT or SIGTERM, then drains connections.
// Presence is reset on the way in and on the way out since no socket
// survives the process.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Presence.Reset(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.cfg.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// graceful shutdown channel
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		s.log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
			return
		}
		s.log.Info("stopped serving new connections")
		errChan <- nil
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	case <-sigChan:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("http shutdown error", "error", err)
	}
	if err := s.Presence.Reset(shutdownCtx); err != nil {
		s.log.Error("presence reset on shutdown", "error", err)
	}
	s.log.Info("graceful shutdown complete")
	return nil
}

func (s *Server) Close() error {
	bpErr := s.bp.Close()
	return errors.Join(bpErr, s.store.Close())
}
