package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/illustra-ai/illustra/internal/service"
)

type contextKey string

const userContextKey contextKey = "user"

// Server is the public API surface: auth, generation, billing, the webhook
// receiver, and a basic-auth admin area for plan management.
type Server struct {
	addr          string
	frontendURL   string
	adminUsername string
	adminPassword string
	log           *slog.Logger
	validate      *validator.Validate

	auth       *service.AuthService
	users      *service.UserService
	generation *service.GenerationService
	billing    *service.BillingService
	plans      *service.PlanService
	webhooks   *service.WebhookService

	router *chi.Mux
}

type Deps struct {
	Addr          string
	FrontendURL   string
	AdminUsername string
	AdminPassword string
	Log           *slog.Logger

	Auth       *service.AuthService
	Users      *service.UserService
	Generation *service.GenerationService
	Billing    *service.BillingService
	Plans      *service.PlanService
	Webhooks   *service.WebhookService
}

func New(deps Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:          deps.Addr,
		frontendURL:   deps.FrontendURL,
		adminUsername: deps.AdminUsername,
		adminPassword: deps.AdminPassword,
		log:           deps.Log,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		auth:          deps.Auth,
		users:         deps.Users,
		generation:    deps.Generation,
		billing:       deps.Billing,
		plans:         deps.Plans,
		webhooks:      deps.Webhooks,
		router:        r,
	}

	r.Use(s.corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhook", s.handleWebhook)
		r.Post("/auth/request-otp", s.handleRequestOTP)
		r.Post("/auth/verify-otp", s.handleVerifyOTP)
		r.Get("/random-images", s.handleRandomImages)
		r.Get("/plans", s.handleListPlans)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/generate", s.handleGenerate)
			r.Post("/billing-details", s.handleBillingDetails)
			r.Get("/user", s.handleGetUser)
			r.Patch("/user", s.handleUpdateUser)
			r.Get("/fetchimagelist", s.handleFetchImageList)
			r.Get("/transactions", s.handleListTransactions)
			r.Post("/auth/logout", s.handleLogout)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.basicAuthMiddleware)
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", s.handleAdminListPlans)
			r.Post("/", s.handleAdminCreatePlan)
			r.Put("/{id}", s.handleAdminUpdatePlan)
			r.Delete("/{id}", s.handleAdminDeletePlan)
		})
	})

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("server shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.frontendURL != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.frontendURL)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		user, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, service.ErrUnauthorized) {
				s.writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			s.internalError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.adminUsername)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.adminPassword)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="illustra"`)
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, found := strings.CutPrefix(header, "Bearer "); found {
		return strings.TrimSpace(token)
	}
	return ""
}

func (s *Server) decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := verrs[0]
			return fmt.Errorf("field %s failed validation (%s)", field.Field(), field.Tag())
		}
		return err
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.writeError(w, http.StatusBadRequest, err.Error())
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("internal error", "err", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}
