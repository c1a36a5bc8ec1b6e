// Package server hosts the Fiber HTTP service: the middleware chain (request
// id, recover, CORS), JSON error rendering, and the shared upstream
// http.Client. The image handler and diagnostics routes are injected by the
// caller so this package stays free of proxy and cache dependencies.
package server
