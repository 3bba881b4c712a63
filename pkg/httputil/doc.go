// Package httputil provides the JSON response helpers, request parsing and
// middleware shared by the HTTP surfaces of appmgt.
//
// WriteServiceError maps the error classes of pkg/appmgt onto status codes:
//
//	validation  -> 400 with field and rule details
//	not found   -> 404
//	anything else -> 500
//
// The middleware stack tags each request with an operation id and a caller
// principal so service logs and audit events can be correlated:
//
//	handler := httputil.Chain(
//		httputil.RecoveryMiddleware(log),
//		httputil.RequestIDMiddleware,
//		httputil.PrincipalMiddleware,
//		httputil.LoggingMiddleware(log),
//	)(router)
package httputil
