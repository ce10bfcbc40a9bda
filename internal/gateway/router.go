package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/bunbase/stage/internal/metrics"
	"github.com/kartikbazzad/bunbase/stage/pkg/logger"
)

// StatusClientClosedRequest is recorded when the caller went away before the
// backend answered.
const StatusClientClosedRequest = 499

// UpstreamError describes a request that could not be forwarded.
type UpstreamError struct {
	Backend string
	Target  string
	Path    string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("backend %s: %s%s: %v", e.Backend, e.Target, e.Path, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// RouterOptions configures a Router.
type RouterOptions struct {
	// Transport defaults to NewTransport(DefaultTransportOptions()).
	Transport http.RoundTripper
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Router forwards requests to the backend selected by the path prefix.
type Router struct {
	table     *Table
	transport http.RoundTripper
	logger    *slog.Logger
	proxy     *httputil.ReverseProxy
}

type forwardKey struct{}

// forward is the per-request proxy state handed from Handle to the proxy
// callbacks.
type forward struct {
	route  Route
	path   string
	target *url.URL
	// header is the client response header, already holding what the
	// gateway's middleware set.
	header http.Header
}

// NewRouter creates a Router over table.
func NewRouter(table *Table, opts RouterOptions) *Router {
	if opts.Transport == nil {
		opts.Transport = NewTransport(DefaultTransportOptions())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	rt := &Router{
		table:     table,
		transport: opts.Transport,
		logger:    opts.Logger,
	}
	rt.proxy = &httputil.ReverseProxy{
		Rewrite:        rewrite,
		ModifyResponse: preferUpstreamHeaders,
		Transport:      opts.Transport,
		ErrorHandler:   rt.handleError,
		ErrorLog:       slog.NewLogLogger(opts.Logger.Handler(), slog.LevelWarn),
	}
	return rt
}

// Table returns the route table.
func (rt *Router) Table() *Table {
	return rt.table
}

// Handle proxies one request. It is meant to be gin's NoRoute handler, so
// every path not claimed by the gateway's own routes ends up here.
func (rt *Router) Handle(c *gin.Context) {
	req := c.Request
	route, err := rt.table.Resolve(req.URL.Path)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Set(metrics.BackendKey, route.Name)

	log := logger.FromContext(req.Context(), rt.logger).With("backend", route.Name)
	if !route.Usable() {
		log.Error("backend has no usable origin", "path", req.URL.Path, "error", route.OriginErr)
		metrics.UpstreamErrors.WithLabelValues(route.Name, "unconfigured").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   route.OriginErr.Error(),
			"backend": route.Name,
		})
		return
	}

	escaped := req.URL.EscapedPath()
	if !hasSegmentPrefix(escaped, route.Prefix) {
		// The client encoded part of the prefix; fall back to the decoded path.
		escaped = (&url.URL{Path: req.URL.Path}).EscapedPath()
	}
	path := route.StripPrefix(escaped)
	fwd := &forward{
		route:  route,
		path:   path,
		target: route.Target(path, req.URL.RawQuery),
		header: c.Writer.Header(),
	}

	log.Info("proxy without authentication", "target", route.Origin.String(), "path", path)

	ctx := context.WithValue(req.Context(), forwardKey{}, fwd)
	rt.proxy.ServeHTTP(c.Writer, req.WithContext(ctx))
	// NoRoute starts from gin's 404. Commit whatever the backend sent so an
	// empty-bodied response is not replaced by gin's default page.
	c.Writer.WriteHeaderNow()
}

// rewrite points the outbound request at the backend. The proxy has already
// dropped hop-by-hop and X-Forwarded-* headers.
func rewrite(pr *httputil.ProxyRequest) {
	fwd := pr.In.Context().Value(forwardKey{}).(*forward)

	target := *fwd.target
	pr.Out.URL = &target
	// Send the backend's own host name, not the gateway's.
	pr.Out.Host = ""
	// Session cookies stay on this side of the gateway.
	pr.Out.Header.Del("Cookie")
}

// preferUpstreamHeaders drops headers the gateway set on the client
// response when the backend sends the same ones, so the backend's values are
// relayed alone. A backend that answers CORS itself replaces all of the
// gateway's Access-Control-* headers.
func preferUpstreamHeaders(resp *http.Response) error {
	if resp.Request == nil {
		return nil
	}
	fwd, _ := resp.Request.Context().Value(forwardKey{}).(*forward)
	if fwd == nil || fwd.header == nil {
		return nil
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		for name := range fwd.header {
			if strings.HasPrefix(name, "Access-Control-") {
				delete(fwd.header, name)
			}
		}
	}
	for name := range resp.Header {
		fwd.header.Del(name)
	}
	return nil
}

func (rt *Router) handleError(w http.ResponseWriter, r *http.Request, err error) {
	fwd, _ := r.Context().Value(forwardKey{}).(*forward)
	if fwd == nil {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	log := logger.FromContext(r.Context(), rt.logger)

	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		log.Debug("client went away before the backend answered",
			"backend", fwd.route.Name, "path", fwd.path)
		metrics.UpstreamErrors.WithLabelValues(fwd.route.Name, "canceled").Inc()
		w.WriteHeader(StatusClientClosedRequest)
		return
	}

	upErr := &UpstreamError{
		Backend: fwd.route.Name,
		Target:  fwd.route.Origin.String(),
		Path:    fwd.path,
		Err:     err,
	}
	log.Error("proxy error",
		"backend", upErr.Backend,
		"target", upErr.Target,
		"path", upErr.Path,
		"method", r.Method,
		"error", err,
	)
	metrics.UpstreamErrors.WithLabelValues(fwd.route.Name, "unreachable").Inc()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   err.Error(),
		"backend": upErr.Backend,
		"target":  upErr.Target,
		"path":    upErr.Path,
	})
}

// Close releases idle upstream connections.
func (rt *Router) Close() {
	if c, ok := rt.transport.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}
