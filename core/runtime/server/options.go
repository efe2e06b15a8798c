package server

import "github.com/querymend/querymend/core/runtime/server/middleware"

// Option customizes a Server at construction time.
type Option func(*Server)

// WithVersion sets the version reported by the health and openapi endpoints.
func WithVersion(version string) Option {
	return func(s *Server) {
		if version != "" {
			s.version = version
		}
	}
}

// WithRateLimiter overrides the in-process rate limiter, used to share a
// Redis-backed limit across replicas.
func WithRateLimiter(limiter middleware.RateLimiter) Option {
	return func(s *Server) {
		s.limiter = limiter
	}
}
