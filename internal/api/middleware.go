package api

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *server) requireAPIToken(next http.Handler) http.Handler {
	if s.cfg.APIToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Api-Token")
		if token == "" && isWebSocketUpgrade(r) {
			token = r.URL.Query().Get("apiToken")
		}
		if token != s.cfg.APIToken {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid api token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isWebSocketUpgrade(r *http.Request) bool {
	if strings.ToLower(r.Header.Get("Upgrade")) != "websocket" {
		return false
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func (s *server) requireLocalHost(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remoteHost := r.RemoteAddr
		if h, _, err := net.SplitHostPort(remoteHost); err == nil {
			remoteHost = h
		}
		ip := net.ParseIP(remoteHost)
		if ip == nil || (!ip.IsLoopback() && !(s.cfg.AllowRemote && ip.IsPrivate())) {
			msg := "remote address must be localhost"
			if s.cfg.AllowRemote {
				msg = "remote address must be localhost or private"
			}
			writeError(w, http.StatusForbidden, codeForbidden, msg, map[string]any{"remoteAddr": r.RemoteAddr})
			return
		}

		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if !s.isAllowedHost(host) {
			writeError(w, http.StatusForbidden, codeForbidden, "host is not allowed", map[string]any{"host": r.Host})
			return
		}

		if origin := r.Header.Get("Origin"); origin != "" {
			u, err := url.Parse(origin)
			if err != nil {
				writeError(w, http.StatusForbidden, codeForbidden, "invalid origin", nil)
				return
			}
			if !s.isAllowedHost(strings.ToLower(u.Hostname())) {
				writeError(w, http.StatusForbidden, codeForbidden, "origin is not allowed", map[string]any{"origin": origin})
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (s *server) isAllowedHost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "127.0.0.1" || host == "localhost" || host == "::1" {
		return true
	}
	for _, allowed := range s.cfg.AllowedHosts {
		if host == strings.ToLower(strings.TrimSpace(allowed)) {
			return true
		}
	}
	if !s.cfg.AllowRemote {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsPrivate()
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if h.Get("X-Frame-Options") == "" {
			h.Set("X-Frame-Options", "DENY")
		}
		if h.Get("X-Content-Type-Options") == "" {
			h.Set("X-Content-Type-Options", "nosniff")
		}
		if h.Get("Referrer-Policy") == "" {
			h.Set("Referrer-Policy", "no-referrer")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		s.mtr.ObserveHTTPRequest(r.Method, route, ww.Status(), time.Since(start))
	})
}
