package ports

//go:generate mockgen -source=health.go -destination=mocks/health_mock.go -package=mocks

import "context"

// HealthChecker reports whether a backing dependency is reachable.
// The health endpoint fails readiness when any checker returns an error.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Name() string // "postgresql", "redis", "memory"
}
