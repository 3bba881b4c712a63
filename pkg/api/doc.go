// Package api exposes the application service over a JSON HTTP API.
//
// The caller is identified by the gateway headers handled by
// httputil.PrincipalMiddleware. Writes run in the caller's tenant; reads take
// an optional ?tenant= override.
//
// # Routes
//
//	GET    /api/v1/applications
//	POST   /api/v1/applications
//	PUT    /api/v1/applications/{id}
//	GET    /api/v1/applications/{name}
//	DELETE /api/v1/applications/{name}
//	GET    /api/v1/applications/{name}/claims?direction=local|remote
//	GET    /api/v1/applications/{name}/requested-claims
//	GET    /api/v1/inbound?key=&type=
//	GET    /api/v1/audit
//
// Validation failures answer 400 with the failing field and rule, missing
// applications 404, and everything else 500.
package api
