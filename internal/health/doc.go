// Package health serves the liveness and health endpoints of the
// management API.
//
// A Handler runs its registered checks concurrently under a timeout. A
// failing critical check makes the process unhealthy (503); a failing
// non-critical check only marks it degraded.
//
//	h := health.NewHandler(logger)
//	h.AddCheck(health.RedisCheck("ratelimit-redis", client, health.WithCritical(false)))
//	h.RegisterRoutes(engine)
package health
