package apihttp

import "net/http"

const (
	corsAllowMethods  = "GET, POST, OPTIONS"
	corsAllowHeaders  = "Content-Type, Authorization, X-Cache-Token"
	corsExposeHeaders = "X-Cache, Retry-After, X-Request-ID"
)

func (s *Server) originAllowed(origin string) bool {
	if s.allowedOrigins == nil {
		return true
	}
	_, ok := s.allowedOrigins[origin]
	return ok
}

// corsMiddleware decorates every response and answers preflight requests directly.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		header := w.Header()
		header.Add("Vary", "Origin")
		header.Set("Access-Control-Allow-Methods", corsAllowMethods)
		header.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		header.Set("Access-Control-Expose-Headers", corsExposeHeaders)
		switch {
		case s.allowedOrigins == nil && origin == "":
			header.Set("Access-Control-Allow-Origin", "*")
		case s.originAllowed(origin):
			header.Set("Access-Control-Allow-Origin", origin)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
