package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/stage/internal/arranger"
	"github.com/kartikbazzad/bunbase/stage/internal/gateway"
	"github.com/kartikbazzad/bunbase/stage/internal/sqon"
	"github.com/kartikbazzad/bunbase/stage/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSaver struct {
	mu    sync.Mutex
	setID string
	err   error
	got   []sqon.Node
}

func (f *fakeSaver) SaveSet(_ context.Context, q sqon.Node) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, q)
	return f.setID, f.err
}

func testTable(t *testing.T) *gateway.Table {
	t.Helper()
	table, err := gateway.NewTable([]gateway.Backend{
		{Name: "composition", Prefix: "/api/composition-arranger", Origin: "http://composition.local"},
		{Name: "instrument", Prefix: "/api/instrument-arranger", Origin: "http://instrument.local"},
		{Name: "growth", Prefix: "/api/growth-arranger", Origin: ""},
	})
	require.NoError(t, err)
	return table
}

func setsEngine(h *SetsHandler) *gin.Engine {
	engine := gin.New()
	engine.POST("/api/sets", h.SaveSet)
	engine.POST("/api/sets/compose", h.Compose)
	return engine
}

func post(engine http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)
	return rec
}

const currentSQON = `{"op":"and","content":[{"op":"in","content":{"fieldName":"data_type","value":["WGS"]}}]}`

func TestSaveSetComposesAndPersists(t *testing.T) {
	saver := &fakeSaver{setID: "set-123"}
	h := NewSetsHandler(testTable(t), map[string]SetSaver{"composition": saver}, "composition", logger.Discard())

	rec := post(setsEngine(h), "/api/sets", `{"sqon":`+currentSQON+`,"objectIds":["a","b"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		SetID string          `json:"setId"`
		SQON  json.RawMessage `json:"sqon"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "set-123", resp.SetID)
	assert.JSONEq(t, `{"op":"and","content":[
		{"op":"and","content":[{"op":"in","content":{"fieldName":"data_type","value":["WGS"]}}]},
		{"op":"in","content":{"fieldName":"object_id","value":["a","b"]}}
	]}`, string(resp.SQON))

	require.Len(t, saver.got, 1)
	want, err := sqon.Parse([]byte(`{"op":"and","content":[` + currentSQON + `,{"op":"in","content":{"fieldName":"object_id","value":["a","b"]}}]}`))
	require.NoError(t, err)
	assert.True(t, sqon.Equal(want, saver.got[0]))
}

func TestSaveSetWithoutSelection(t *testing.T) {
	saver := &fakeSaver{setID: "set-all"}
	h := NewSetsHandler(testTable(t), map[string]SetSaver{"composition": saver}, "composition", logger.Discard())

	rec := post(setsEngine(h), "/api/sets", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.JSONEq(t, `{"setId":"set-all","sqon":null}`, rec.Body.String())
	require.Len(t, saver.got, 1)
	assert.True(t, sqon.IsEmpty(saver.got[0]))
}

func TestSaveSetBackendSelection(t *testing.T) {
	composition := &fakeSaver{setID: "c"}
	instrument := &fakeSaver{setID: "i"}
	h := NewSetsHandler(testTable(t), map[string]SetSaver{
		"composition": composition,
		"instrument":  instrument,
	}, "composition", logger.Discard())

	rec := post(setsEngine(h), "/api/sets", `{"backend":"instrument","objectIds":["x"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"setId":"i"`)
	assert.Len(t, instrument.got, 1)
	assert.Empty(t, composition.got)
}

func TestSaveSetErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		saver  *fakeSaver
		status int
		substr string
	}{
		{"malformed body", `{"sqon":`, &fakeSaver{}, http.StatusBadRequest, "invalid request body"},
		{"invalid sqon", `{"sqon":{"op":"near","content":[]}}`, &fakeSaver{}, http.StatusBadRequest, "invalid request body"},
		{"unknown backend", `{"backend":"nope"}`, &fakeSaver{}, http.StatusBadRequest, "unknown backend nope"},
		{"unusable backend", `{"backend":"growth"}`, &fakeSaver{}, http.StatusInternalServerError, "backend growth is not available"},
		{
			"persistence failure",
			`{"objectIds":["a"]}`,
			&fakeSaver{err: &arranger.SetPersistenceError{Endpoint: "http://composition.local/graphql", Err: arranger.ErrMissingSetID}},
			http.StatusBadGateway,
			"failed to save set",
		},
		{"transport failure", `{"objectIds":["a"]}`, &fakeSaver{err: errors.New("dial tcp: refused")}, http.StatusBadGateway, "dial tcp: refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSetsHandler(testTable(t), map[string]SetSaver{"composition": tt.saver}, "composition", logger.Discard())
			rec := post(setsEngine(h), "/api/sets", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body["error"], tt.substr)
		})
	}
}

func TestCompose(t *testing.T) {
	h := NewSetsHandler(testTable(t), nil, "composition", logger.Discard())
	engine := setsEngine(h)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"nothing", `{}`, `{"sqon":null}`},
		{"ids only", `{"objectIds":["f1"]}`, `{"sqon":{"op":"in","content":{"fieldName":"object_id","value":["f1"]}}}`},
		{"filter only", `{"sqon":` + currentSQON + `}`, `{"sqon":` + currentSQON + `}`},
		{"empty filter", `{"sqon":{"op":"and","content":[]},"objectIds":[]}`, `{"sqon":null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(engine, "/api/sets/compose", tt.body)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, tt.want, rec.Body.String())
		})
	}
}

func TestSaversFromTable(t *testing.T) {
	savers := SaversFromTable(testTable(t), "/graphql", http.DefaultClient)
	require.Len(t, savers, 2)
	require.NotContains(t, savers, "growth")

	c, ok := savers["composition"].(*arranger.Client)
	require.True(t, ok)
	assert.Equal(t, "http://composition.local/graphql", c.Endpoint())
}

func TestListRoutes(t *testing.T) {
	engine := gin.New()
	engine.GET("/api/routes", ListRoutes(testTable(t)))

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/routes", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Routes []RouteInfo `json:"routes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Routes, 3)
	assert.Equal(t, "composition", body.Routes[0].Name)
	assert.True(t, body.Routes[0].Usable)
	assert.Equal(t, "growth", body.Routes[1].Name)
	assert.False(t, body.Routes[1].Usable)
	assert.NotEmpty(t, body.Routes[1].Error)
}
