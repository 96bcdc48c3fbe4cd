package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"erpsync/internal/domain"
)

// timestampLayout is the second-granularity format the server uses for
// write_date values, always UTC.
const timestampLayout = "2006-01-02 15:04:05"

// Config holds remote client configuration.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Client talks JSON-RPC to the remote ERP system. It performs no retries:
// every failure propagates typed to the caller, and the batch state machine
// owns the retry policy.
type Client struct {
	httpClient *http.Client
	endpoint   string
	logger     *slog.Logger
	nextID     atomic.Int64
}

// New creates a remote client.
func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		endpoint: cfg.Endpoint,
		logger:   logger.With("component", "odoo"),
	}
}

// Authenticate opens a per-tenant session and returns the connection handle
// passed into every subsequent call.
func (c *Client) Authenticate(ctx context.Context, tenant domain.Tenant) (*domain.Connection, error) {
	result, err := c.call(ctx, "common", "authenticate",
		[]any{tenant.Database, tenant.Username, tenant.Password, map[string]any{}})
	if err != nil {
		return nil, err
	}

	// The server answers false (not an error) on bad credentials.
	var uid int64
	if err := json.Unmarshal(result, &uid); err != nil {
		return nil, &domain.AuthError{Database: tenant.Database, Reason: "credentials rejected"}
	}
	if uid <= 0 {
		return nil, &domain.AuthError{Database: tenant.Database, Reason: "credentials rejected"}
	}

	c.logger.Debug("authenticated", "database", tenant.Database, "uid", uid)

	return &domain.Connection{
		UserID:   tenant.UserID,
		Database: tenant.Database,
		UID:      uid,
		Password: tenant.Password,
	}, nil
}

// Count reports the number of records of module whose modification timestamp
// falls in [start, end).
func (c *Client) Count(ctx context.Context, conn *domain.Connection, module string, start, end time.Time) (int, error) {
	result, err := c.execute(ctx, conn, module, "search_count", []any{windowDomain(start, end, 0)}, nil)
	if err != nil {
		return 0, err
	}

	var count int
	if err := json.Unmarshal(result, &count); err != nil {
		return 0, &domain.TransportError{Op: "search_count", Err: fmt.Errorf("decode result: %w", err)}
	}
	return count, nil
}

// Read returns up to limit records of module matching the window predicate
// with id > afterID, ordered ascending by id.
func (c *Client) Read(ctx context.Context, conn *domain.Connection, module string, start, end time.Time, afterID int64, limit int) ([]domain.RawRecord, error) {
	opts := map[string]any{
		"order": "id asc",
		"limit": limit,
	}

	result, err := c.execute(ctx, conn, module, "search_read", []any{windowDomain(start, end, afterID)}, opts)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	if err := json.Unmarshal(result, &rows); err != nil {
		return nil, &domain.TransportError{Op: "search_read", Err: fmt.Errorf("decode result: %w", err)}
	}

	records := make([]domain.RawRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := transform(module, row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	c.logger.Debug("read page", "module", module, "after_id", afterID, "rows", len(records))

	return records, nil
}

// windowDomain builds the filter predicate: half-open timestamp range plus
// the forward-only id cursor when afterID > 0.
func windowDomain(start, end time.Time, afterID int64) []any {
	dom := []any{
		[]any{"write_date", ">=", start.UTC().Format(timestampLayout)},
		[]any{"write_date", "<", end.UTC().Format(timestampLayout)},
	}
	if afterID > 0 {
		dom = append(dom, []any{"id", ">", afterID})
	}
	return dom
}

func (c *Client) execute(ctx context.Context, conn *domain.Connection, module, method string, args []any, opts map[string]any) (json.RawMessage, error) {
	callArgs := []any{conn.Database, conn.UID, conn.Password, module, method}
	for _, a := range args {
		callArgs = append(callArgs, a)
	}
	if opts != nil {
		callArgs = append(callArgs, opts)
	}
	return c.call(ctx, "object", "execute_kw", callArgs)
}

func (c *Client) call(ctx context.Context, service, method string, args []any) (json.RawMessage, error) {
	payload := rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params: rpcParams{
			Service: service,
			Method:  method,
			Args:    args,
		},
		ID: c.nextID.Add(1),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: method, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.TransportError{Op: method, Err: fmt.Errorf("unexpected status: %d", resp.StatusCode)}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, &domain.TransportError{Op: method, Err: fmt.Errorf("decode response: %w", err)}
	}

	if rpcResp.Error != nil {
		return nil, mapFault(method, rpcResp.Error)
	}

	return rpcResp.Result, nil
}

func mapFault(method string, fault *rpcError) error {
	name := fault.Data.Name
	if strings.Contains(name, "AccessDenied") || strings.Contains(name, "AccessError") ||
		strings.Contains(fault.Message, "Access Denied") {
		return &domain.AuthError{Reason: fault.Message}
	}
	return &domain.TransportError{Op: method, Err: fmt.Errorf("rpc fault %d: %s", fault.Code, fault.Message)}
}

// transform parses the typed envelope out of a raw row: id and write_date
// become first-class fields, everything else stays in the opaque bag.
func transform(module string, row map[string]any) (domain.RawRecord, error) {
	idVal, ok := row["id"].(float64)
	if !ok {
		return domain.RawRecord{}, &domain.IntegrityError{Module: module, Detail: "record without numeric id"}
	}

	rec := domain.RawRecord{
		ID:     int64(idVal),
		Fields: row,
	}

	if raw, ok := row["write_date"].(string); ok {
		ts, err := time.Parse(timestampLayout, raw)
		if err != nil {
			return domain.RawRecord{}, &domain.IntegrityError{Module: module, Detail: fmt.Sprintf("unparseable write_date %q", raw)}
		}
		rec.ModifiedAt = ts
	}

	return rec, nil
}
