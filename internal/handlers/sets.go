package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/bunbase/stage/internal/arranger"
	"github.com/kartikbazzad/bunbase/stage/internal/gateway"
	"github.com/kartikbazzad/bunbase/stage/internal/metrics"
	"github.com/kartikbazzad/bunbase/stage/internal/sqon"
	apperrors "github.com/kartikbazzad/bunbase/stage/pkg/errors"
	"github.com/kartikbazzad/bunbase/stage/pkg/logger"
)

// SetSaver persists a query as a saved set.
type SetSaver interface {
	SaveSet(ctx context.Context, q sqon.Node) (string, error)
}

// SaversFromTable creates one Arranger client per usable route. The
// GraphQL endpoint is the route's origin plus graphqlPath.
func SaversFromTable(table *gateway.Table, graphqlPath string, httpClient *http.Client, opts ...arranger.Option) map[string]SetSaver {
	savers := make(map[string]SetSaver)
	for _, r := range table.Routes() {
		if !r.Usable() {
			continue
		}
		endpoint := strings.TrimSuffix(r.Origin.String(), "/") + "/" + strings.TrimPrefix(graphqlPath, "/")
		savers[r.Name] = arranger.NewClient(endpoint, httpClient, opts...)
	}
	return savers
}

// SetsHandler composes and saves sets.
type SetsHandler struct {
	table          *gateway.Table
	savers         map[string]SetSaver
	defaultBackend string
	logger         *slog.Logger
}

// NewSetsHandler creates a SetsHandler. Requests without a backend use
// defaultBackend.
func NewSetsHandler(table *gateway.Table, savers map[string]SetSaver, defaultBackend string, log *slog.Logger) *SetsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SetsHandler{
		table:          table,
		savers:         savers,
		defaultBackend: defaultBackend,
		logger:         log,
	}
}

// SaveSetRequest is the body of POST /api/sets and POST /api/sets/compose.
type SaveSetRequest struct {
	Backend   string      `json:"backend"`
	SQON      sqon.Filter `json:"sqon"`
	ObjectIDs []string    `json:"objectIds"`
}

// SaveSetResponse is returned by POST /api/sets.
type SaveSetResponse struct {
	SetID string      `json:"setId"`
	SQON  sqon.Filter `json:"sqon"`
}

// Compose returns the query a save would persist, without saving it.
func (h *SetsHandler) Compose(c *gin.Context) {
	var req SaveSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("invalid request body", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"sqon": sqon.Filter{Node: sqon.ComposeSetQuery(req.SQON.Node, req.ObjectIDs)}})
}

// SaveSet composes the request's filter with its object ids and persists the
// result on the chosen backend.
func (h *SetsHandler) SaveSet(c *gin.Context) {
	var req SaveSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.BadRequest("invalid request body", err))
		return
	}

	backend := req.Backend
	if backend == "" {
		backend = h.defaultBackend
	}
	saver, appErr := h.saverFor(backend)
	if appErr != nil {
		writeError(c, appErr)
		return
	}
	c.Set(metrics.BackendKey, backend)

	query := sqon.ComposeSetQuery(req.SQON.Node, req.ObjectIDs)
	log := logger.FromContext(c.Request.Context(), h.logger).With("backend", backend)

	setID, err := saver.SaveSet(c.Request.Context(), query)
	if err != nil {
		log.Error("failed to save set", "object_ids", len(req.ObjectIDs), "error", err)
		metrics.SavedSets.WithLabelValues(backend, "error").Inc()
		writeError(c, apperrors.BadGateway("failed to save set", err))
		return
	}

	log.Info("saved set", "set_id", setID, "object_ids", len(req.ObjectIDs))
	metrics.SavedSets.WithLabelValues(backend, "ok").Inc()
	c.JSON(http.StatusCreated, SaveSetResponse{SetID: setID, SQON: sqon.Filter{Node: query}})
}

func (h *SetsHandler) saverFor(backend string) (SetSaver, *apperrors.AppError) {
	route, ok := h.table.Lookup(backend)
	if !ok {
		return nil, apperrors.BadRequest("unknown backend "+backend, nil)
	}
	saver, ok := h.savers[backend]
	if !ok || !route.Usable() {
		return nil, apperrors.Internal("backend "+backend+" is not available", route.OriginErr)
	}
	return saver, nil
}

// writeError reports err as {"error": message}. The internal cause is only
// included for client errors and backend failures.
func writeError(c *gin.Context, err *apperrors.AppError) {
	msg := err.Message
	if err.Err != nil && err.Code != http.StatusInternalServerError {
		msg = err.Error()
	}
	var persistErr *arranger.SetPersistenceError
	if errors.As(err, &persistErr) {
		msg = err.Message + ": " + persistErr.Err.Error()
	}
	c.AbortWithStatusJSON(err.Code, gin.H{"error": msg})
}
