package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"strdash/metrics"
	"strdash/util"
)

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack exposes the connection to the WebSocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap lets http.ResponseController and the WebSocket upgrader reach the
// underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// requestIDMiddleware assigns every request an id, reusing a well-formed
// incoming X-Request-ID.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ContextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each request and counts it by route template.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()

		if route == "/metrics" || route == "/health" {
			return
		}
		s.logger.Infow("HTTP request",
			"request_id", GetRequestIDOrDefault(r.Context()),
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration", time.Since(start),
			"client_ip", getRealIP(r, s.config.Server.TrustProxy))
	})
}

// errorRecoveryMiddleware turns a handler panic into a 500 response.
func (s *Server) errorRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Errorw("PANIC RECOVERED",
					"error", util.SanitizeString(fmt.Sprintf("%v", err)),
					"request_id", GetRequestIDOrDefault(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"stack_trace", string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, "Internal server error", fmt.Errorf("panic: %v", err), nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// securityHeadersMiddleware sets the browser hardening headers.
func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy",
			"default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; "+
				"img-src 'self' data:; connect-src 'self' ws: wss:; frame-ancestors 'none'; base-uri 'self'")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Cache-Control", "no-store")
		if s.config.Server.TLS {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware allows the configured origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range s.config.Server.AllowedOrigins {
			if origin != "" && origin == allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
				break
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware provides rate limiting per IP
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getRealIP(r, s.config.Server.TrustProxy)
		s.rateLimitersMu.Lock()
		entry, exists := s.rateLimiters[ip]
		if !exists {
			entry = &rateLimiterEntry{
				limiter: rate.NewLimiter(rate.Limit(s.config.Server.RateLimit.RequestsPerSecond), s.config.Server.RateLimit.Burst),
			}
			s.rateLimiters[ip] = entry
		}
		entry.lastSeen = time.Now()
		limiter := entry.limiter
		s.rateLimitersMu.Unlock()

		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeFailure(w, http.StatusTooManyRequests, "Too many requests", s.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cleanupRateLimiters periodically removes idle limiters and auth failures.
func (s *Server) cleanupRateLimiters() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.rateLimitersMu.Lock()
			for ip, entry := range s.rateLimiters {
				if time.Since(entry.lastSeen) > time.Hour {
					delete(s.rateLimiters, ip)
				}
			}
			s.rateLimitersMu.Unlock()

			s.authFailuresMu.Lock()
			for ip, entry := range s.authFailures {
				if time.Since(entry.lastFail) > time.Hour {
					delete(s.authFailures, ip)
				}
			}
			s.authFailuresMu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// basicAuthMiddleware checks the dashboard credentials and blocks an IP
// for ten minutes after five failures.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getRealIP(r, s.config.Server.TrustProxy)

		s.authFailuresMu.Lock()
		entry, exists := s.authFailures[ip]
		blocked := exists && entry.count >= maxAuthFailures && time.Since(entry.lastFail) < authBlockDuration
		s.authFailuresMu.Unlock()
		if blocked {
			s.logger.Warnw("Too many failed auth attempts", "client_ip", ip)
			writeFailure(w, http.StatusTooManyRequests, "Too many requests", s.logger)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok || username != s.config.Auth.Username ||
			bcrypt.CompareHashAndPassword([]byte(s.config.Auth.HashedPassword), []byte(password)) != nil {
			s.authFailuresMu.Lock()
			if entry, exists := s.authFailures[ip]; exists {
				entry.count++
				entry.lastFail = time.Now()
			} else {
				s.authFailures[ip] = &authFailureEntry{count: 1, lastFail: time.Now()}
			}
			s.authFailuresMu.Unlock()

			s.logger.Warnw("Failed authentication attempt", "client_ip", ip)
			w.Header().Set("WWW-Authenticate", `Basic realm="strdash"`)
			writeFailure(w, http.StatusUnauthorized, "Unauthorized", s.logger)
			return
		}

		s.authFailuresMu.Lock()
		delete(s.authFailures, ip)
		s.authFailuresMu.Unlock()

		ctx := context.WithValue(r.Context(), ContextKeyUsername, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionMiddleware binds the request to the investigator's workspace,
// issuing a new signed session cookie when none is valid.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, _ := GetUsername(r.Context())

		var sessionID string
		if cookie, err := r.Cookie(s.config.Session.CookieName); err == nil {
			if claims, err := validateSessionToken(cookie.Value, s.secret); err == nil {
				sessionID = claims.SessionID()
			} else {
				s.logger.Debugw("Rejected session cookie",
					"request_id", GetRequestIDOrDefault(r.Context()),
					"error", err)
			}
		}
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		ws, created, err := s.registry.GetOrCreate(sessionID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to create workspace", err, s.logger)
			return
		}
		if created {
			if err := s.issueSessionCookie(w, sessionID, username); err != nil {
				writeError(w, http.StatusInternalServerError, "Failed to issue session", err, s.logger)
				return
			}
		}

		ctx := context.WithValue(r.Context(), ContextKeyWorkspace, ws)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) issueSessionCookie(w http.ResponseWriter, sessionID, username string) error {
	token, expires, err := generateSessionToken(sessionID, username, s.secret, s.config.Session.TTL)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.Session.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.config.Server.TLS,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}
