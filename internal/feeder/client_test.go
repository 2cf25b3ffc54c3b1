package feeder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type feederHandler struct {
	t *testing.T

	token        string
	tokenIssued  atomic.Int64
	expireFirst  bool
	pagesServed  atomic.Int64
	failuresLeft atomic.Int64
	records      []Record
}

func (h *feederHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.failuresLeft.Load() > 0 {
		h.failuresLeft.Add(-1)
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	var req map[string]any
	require.NoError(h.t, json.NewDecoder(r.Body).Decode(&req))

	act, _ := req["act"].(string)
	if act == "GetToken" {
		h.tokenIssued.Add(1)
		writeEnvelope(h.t, w, 0, "", map[string]string{"token": h.token})
		return
	}

	token, _ := req["token"].(string)
	if token != h.token {
		writeEnvelope(h.t, w, 100, "invalid token", nil)
		return
	}
	if h.expireFirst && h.pagesServed.Load() == 0 {
		h.expireFirst = false
		writeEnvelope(h.t, w, 100, "token expired", nil)
		return
	}

	limit := int(req["limit"].(float64))
	offset := 0
	if v, ok := req["offset"].(float64); ok {
		offset = int(v)
	}

	start := offset
	if start > len(h.records) {
		start = len(h.records)
	}
	end := start + limit
	if end > len(h.records) {
		end = len(h.records)
	}

	h.pagesServed.Add(1)
	writeEnvelope(h.t, w, 0, "", h.records[start:end])
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, code int, desc string, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
		"error_code": code,
		"error_desc": desc,
		"data":       data,
	}))
}

func newTestServer(t *testing.T, handler *feederHandler) (*httptest.Server, Client) {
	t.Helper()
	handler.t = t
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, NewClient(srv.URL, "user", "secret", nil)
}

func TestGetToken(t *testing.T) {
	t.Parallel()

	handler := &feederHandler{token: "tok-1"}
	_, client := newTestServer(t, handler)

	require.NoError(t, client.GetToken(context.Background()))
	assert.EqualValues(t, 1, handler.tokenIssued.Load())
}

func TestFetchPageAuthenticatesLazily(t *testing.T) {
	t.Parallel()

	handler := &feederHandler{
		token: "tok-1",
		records: []Record{
			{"id_dosen": "d-1", "nama_dosen": "Dosen Satu"},
			{"id_dosen": "d-2", "nama_dosen": "Dosen Dua"},
		},
	}
	_, client := newTestServer(t, handler)

	page, err := client.FetchPage(context.Background(), PageRequest{
		Resource: "GetListDosen", Limit: 10,
	})
	require.NoError(t, err)

	assert.EqualValues(t, 1, handler.tokenIssued.Load(), "token fetched on first use")
	assert.Len(t, page.Records, 2)
	assert.False(t, page.HasMore, "short page means no further data")
	assert.Equal(t, "d-1", page.Records[0].Str("id_dosen"))
}

func TestFetchPageFullPageHasMore(t *testing.T) {
	t.Parallel()

	handler := &feederHandler{
		token:   "tok-1",
		records: []Record{{"id": "1"}, {"id": "2"}, {"id": "3"}},
	}
	_, client := newTestServer(t, handler)

	page, err := client.FetchPage(context.Background(), PageRequest{
		Resource: "GetProdi", Limit: 3,
	})
	require.NoError(t, err)
	assert.True(t, page.HasMore)
}

func TestFetchPageReauthenticatesOnExpiredToken(t *testing.T) {
	t.Parallel()

	handler := &feederHandler{
		token:       "tok-1",
		expireFirst: true,
		records:     []Record{{"id": "1"}},
	}
	_, client := newTestServer(t, handler)

	page, err := client.FetchPage(context.Background(), PageRequest{
		Resource: "GetProdi", Limit: 10,
	})
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.EqualValues(t, 2, handler.tokenIssued.Load(), "expired session re-authenticates once")
}

func TestFetchPageAPIError(t *testing.T) {
	t.Parallel()

	handler := &feederHandler{token: "tok-1"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["act"] == "GetToken" {
			writeEnvelope(t, w, 0, "", map[string]string{"token": handler.token})
			return
		}
		writeEnvelope(t, w, 42, "unknown resource", nil)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "user", "secret", nil)
	_, err := client.FetchPage(context.Background(), PageRequest{Resource: "GetNope", Limit: 5})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 42, apiErr.Code)
}

func TestFetchPageRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	handler := &feederHandler{
		token:   "tok-1",
		records: []Record{{"id": "1"}},
	}
	handler.failuresLeft.Store(2)
	_, client := newTestServer(t, handler)

	page, err := client.FetchPage(context.Background(), PageRequest{
		Resource: "GetProdi", Limit: 10,
	})
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
}

func TestFetchPageValidation(t *testing.T) {
	t.Parallel()

	client := NewClient("http://localhost:1", "user", "secret", nil)

	_, err := client.FetchPage(context.Background(), PageRequest{Limit: 10})
	assert.Error(t, err, "resource is mandatory")

	_, err = client.FetchPage(context.Background(), PageRequest{Resource: "GetProdi"})
	assert.Error(t, err, "limit must be positive")

	_, err = client.FetchPage(context.Background(), PageRequest{
		Resource: "GetProdi", Limit: 10, Filter: "id_periode = '2024\x001'",
	})
	assert.Error(t, err, "control characters are rejected")
}

func TestSanitizeFilter(t *testing.T) {
	t.Parallel()

	out, err := SanitizeFilter("  id_periode = '20241'  ")
	require.NoError(t, err)
	assert.Equal(t, "id_periode = '20241'", out)

	_, err = SanitizeFilter("a\nb")
	assert.Error(t, err)
}

func TestRecordStr(t *testing.T) {
	t.Parallel()

	rec := Record{
		"text":    "  hello  ",
		"integer": float64(42),
		"decimal": float64(3.5),
		"flag":    true,
		"empty":   nil,
	}

	assert.Equal(t, "hello", rec.Str("text"))
	assert.Equal(t, "42", rec.Str("integer"))
	assert.Equal(t, "3.5", rec.Str("decimal"))
	assert.Equal(t, "true", rec.Str("flag"))
	assert.Equal(t, "", rec.Str("empty"))
	assert.Equal(t, "", rec.Str("absent"))
	assert.True(t, rec.Has("text"))
	assert.False(t, rec.Has("empty"))
}
