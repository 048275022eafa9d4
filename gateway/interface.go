package gateway

import "net/http"

// HTTPHandler is implemented by anything that mounts routes on a shared mux.
//
// The prefix parameter is the URL path prefix for the routes, e.g. "/api/".
type HTTPHandler interface {
	RegisterHTTPHandlers(prefix string, mux *http.ServeMux)
}
