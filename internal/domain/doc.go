/*
Package domain contains the value types and interfaces shared by the load balancer.

BackendAddress is the identity of an origin server. Its host:port rendering is
also the value carried by the sticky session cookie, so affinity is a pure
function of the cookie with no server-side session table:

	addr, err := domain.ParseBackendAddress("127.0.0.1:8001")
	if err == nil && pool.IsAvailable(ctx, addr) {
		// route to addr
	}

Responses are kept as RawResponse byte blobs because they are forwarded and
cached verbatim.
*/
package domain
