/*
Package service implements backend selection for the load balancer.

Key Components:

BackendPool:
Keeps the configured backends in order and hands them out by round robin. A
backend is chosen only if it accepts a TCP connection at selection time; when
none does, the first configured backend is returned so the caller can report
the failure to the client.

	prober := service.NewTCPProber(time.Second, logger)
	pool := service.NewBackendPool(backends, prober, logger)
	backend, available := pool.SelectRoundRobin(ctx)

StickySessionManager:
Resolves the affinity cookie of a request. A cookie naming an available backend
pins the request to it; anything else falls back to round robin and asks the
caller to issue a new cookie.

	sticky := service.NewStickySessionManager("sticky_backend", pool, logger)
	selection := sticky.Resolve(ctx, request.Headers)

By default the cookie is trusted: any reachable host:port it names is used, even
one outside the pool, and it becomes a per-backend metrics key. Deployments that
face untrusted clients should pass RestrictToPool:

	sticky := service.NewStickySessionManager("sticky_backend", pool, logger, service.RestrictToPool())

Metrics:
Thread-safe request, error, latency and cache counters, reported per backend and
in total.
*/
package service
