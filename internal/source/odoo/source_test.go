package odoo

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erpsync/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func rpcServer(t *testing.T, handler func(req rpcRequest) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		result := handler(req)
		if fault, ok := result.(*rpcError); ok {
			resp["error"] = fault
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestAuthenticate_Success(t *testing.T) {
	srv := rpcServer(t, func(req rpcRequest) any {
		assert.Equal(t, "common", req.Params.Service)
		assert.Equal(t, "authenticate", req.Params.Method)
		assert.Equal(t, "acme", req.Params.Args[0])
		return 7
	})
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL, Timeout: 5 * time.Second}, testLogger())

	conn, err := client.Authenticate(context.Background(), domain.Tenant{
		UserID:   42,
		Database: "acme",
		Username: "sync@acme.test",
		Password: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), conn.UID)
	assert.Equal(t, int64(42), conn.UserID)
	assert.Equal(t, "acme", conn.Database)
}

func TestAuthenticate_BadCredentials(t *testing.T) {
	// The server answers false instead of a fault on bad credentials.
	srv := rpcServer(t, func(req rpcRequest) any { return false })
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL, Timeout: 5 * time.Second}, testLogger())

	_, err := client.Authenticate(context.Background(), domain.Tenant{Database: "acme"})
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestCount_BuildsWindowDomain(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(6 * time.Hour)

	srv := rpcServer(t, func(req rpcRequest) any {
		assert.Equal(t, "object", req.Params.Service)
		assert.Equal(t, "execute_kw", req.Params.Method)
		assert.Equal(t, "res.partner", req.Params.Args[3])
		assert.Equal(t, "search_count", req.Params.Args[4])

		dom := req.Params.Args[5].([]any)
		require.Len(t, dom, 2)
		assert.Equal(t, []any{"write_date", ">=", "2026-03-01 00:00:00"}, dom[0].([]any))
		assert.Equal(t, []any{"write_date", "<", "2026-03-01 06:00:00"}, dom[1].([]any))
		return 1250
	})
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL, Timeout: 5 * time.Second}, testLogger())
	conn := &domain.Connection{Database: "acme", UID: 7, Password: "secret"}

	count, err := client.Count(context.Background(), conn, "res.partner", start, end)
	require.NoError(t, err)
	assert.Equal(t, 1250, count)
}

func TestRead_CursorPredicateAndEnvelope(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	srv := rpcServer(t, func(req rpcRequest) any {
		dom := req.Params.Args[5].([]any)
		require.Len(t, dom, 3)
		assert.Equal(t, []any{"id", ">", float64(100)}, dom[2].([]any))

		opts := req.Params.Args[6].(map[string]any)
		assert.Equal(t, "id asc", opts["order"])
		assert.Equal(t, float64(10), opts["limit"])

		return []map[string]any{
			{"id": 101, "name": "Partner A", "write_date": "2026-03-01 00:10:00", "city": "Oslo"},
			{"id": 102, "name": "Partner B", "write_date": "2026-03-01 00:12:30"},
		}
	})
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL, Timeout: 5 * time.Second}, testLogger())
	conn := &domain.Connection{Database: "acme", UID: 7, Password: "secret"}

	records, err := client.Read(context.Background(), conn, "res.partner", start, end, 100, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, int64(101), records[0].ID)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 10, 0, 0, time.UTC), records[0].ModifiedAt)
	assert.Equal(t, "Oslo", records[0].Fields["city"])
	assert.Equal(t, int64(102), records[1].ID)
}

func TestRead_FirstPageOmitsCursor(t *testing.T) {
	srv := rpcServer(t, func(req rpcRequest) any {
		dom := req.Params.Args[5].([]any)
		assert.Len(t, dom, 2)
		return []map[string]any{}
	})
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL, Timeout: 5 * time.Second}, testLogger())
	conn := &domain.Connection{Database: "acme", UID: 7, Password: "secret"}

	records, err := client.Read(context.Background(), conn, "res.partner", time.Now().Add(-time.Hour), time.Now(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCall_AccessDeniedFault(t *testing.T) {
	srv := rpcServer(t, func(req rpcRequest) any {
		return &rpcError{Code: 100, Message: "Access Denied", Data: rpcErrorData{Name: "odoo.exceptions.AccessDenied"}}
	})
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL, Timeout: 5 * time.Second}, testLogger())
	conn := &domain.Connection{Database: "acme", UID: 7, Password: "wrong"}

	_, err := client.Count(context.Background(), conn, "res.partner", time.Now().Add(-time.Hour), time.Now())
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestCall_ServerErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(Config{Endpoint: srv.URL, Timeout: 5 * time.Second}, testLogger())
	conn := &domain.Connection{Database: "acme", UID: 7, Password: "secret"}

	_, err := client.Count(context.Background(), conn, "res.partner", time.Now().Add(-time.Hour), time.Now())
	var transportErr *domain.TransportError
	require.ErrorAs(t, err, &transportErr)
}
