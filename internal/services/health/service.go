package health

import "time"

// Service encapsulates health-related checks.
type Service struct {
	env     string
	started time.Time
}

// NewService constructs a new health service for the given environment.
func NewService(env string) *Service {
	return &Service{env: env, started: time.Now().UTC()}
}

// Status returns the liveness payload served on the health endpoint.
func (s *Service) Status() map[string]any {
	return map[string]any{
		"ok":       true,
		"env":      s.env,
		"uptime_s": int64(time.Since(s.started).Seconds()),
	}
}
