package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Adriangar333/Traceops-sub000/internal/model"
	"github.com/Adriangar333/Traceops-sub000/internal/tracing"
)

// DefaultTimeout bounds a single remote call.
const DefaultTimeout = 15 * time.Second

// HTTPClient talks to the REST API of the remote authority for one
// work-unit kind:
//
//	GET   {base}/{collection}?assignee={identity}
//	PATCH {base}/{collection}/{id}/status
//	POST  {base}/{collection}/{id}/evidence   (Idempotency-Key: content key)
//
// where collection is "deliveries" or "service-orders".
type HTTPClient struct {
	baseURL string
	kind    model.Kind
	token   func() string
	client  *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		if c != nil {
			h.client = c
		}
	}
}

// WithToken sets the bearer token source. It is called per request so a
// new login takes effect without rebuilding the client.
func WithToken(token func() string) HTTPOption {
	return func(h *HTTPClient) {
		h.token = token
	}
}

// NewHTTPClient creates a client for kind rooted at baseURL.
func NewHTTPClient(baseURL string, kind model.Kind, opts ...HTTPOption) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid remote base url %q", baseURL)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid work unit kind %q", kind)
	}
	h := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		kind:    kind,
		token:   func() string { return "" },
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func collection(kind model.Kind) string {
	if kind == model.KindServiceOrder {
		return "service-orders"
	}
	return "deliveries"
}

type wireWorkUnit struct {
	ID         string     `json:"id"`
	Reference  string     `json:"reference"`
	ClientName string     `json:"client_name"`
	Address    string     `json:"address"`
	Lat        *float64   `json:"lat"`
	Lng        *float64   `json:"lng"`
	AmountDue  float64    `json:"amount_due"`
	Priority   int        `json:"priority"`
	Status     string     `json:"status"`
	AssignedAt string     `json:"assigned_at"`
	UpdatedAt  *time.Time `json:"updated_at"`
}

// FetchWorkUnits downloads the work units assigned to identity. The server
// may answer with a bare array or with {"work_units": [...]}.
func (h *HTTPClient) FetchWorkUnits(ctx context.Context, identity string) ([]model.WorkUnit, error) {
	endpoint := fmt.Sprintf("%s/%s?assignee=%s", h.baseURL, collection(h.kind), url.QueryEscape(identity))
	body, err := h.do(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}

	var wire []wireWorkUnit
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &wire)
	} else {
		var env struct {
			WorkUnits []wireWorkUnit `json:"work_units"`
		}
		err = json.Unmarshal(trimmed, &env)
		wire = env.WorkUnits
	}
	if err != nil {
		return nil, ClassifyError(fmt.Errorf("decode work units: %w", err))
	}

	units := make([]model.WorkUnit, 0, len(wire))
	for _, w := range wire {
		unit := model.WorkUnit{
			Kind:       h.kind,
			ID:         w.ID,
			Reference:  w.Reference,
			ClientName: w.ClientName,
			Address:    w.Address,
			AmountDue:  w.AmountDue,
			Priority:   w.Priority,
			Status:     remoteStatus(w.Status),
			AssignedAt: w.AssignedAt,
			Synced:     true,
		}
		if w.Lat != nil && w.Lng != nil {
			unit.Location = &model.Coordinates{Lat: *w.Lat, Lng: *w.Lng}
		}
		if w.UpdatedAt != nil {
			unit.UpdatedAt = w.UpdatedAt.UTC()
		}
		if err := unit.Validate(); err != nil {
			return nil, ClassifyError(fmt.Errorf("decode work units: %w", err))
		}
		units = append(units, unit)
	}
	return units, nil
}

// remoteStatus maps server status names onto the local lifecycle. The
// server reports freshly assigned units as "assigned".
func remoteStatus(s string) model.Status {
	switch s {
	case "assigned", "":
		return model.StatusPending
	}
	return model.Status(s)
}

// HandleUpdateStatus sends a status mutation. Re-sending the same status is
// a no-op on the server.
func (h *HTTPClient) HandleUpdateStatus(ctx context.Context, a model.UpdateStatus) error {
	endpoint := fmt.Sprintf("%s/%s/%s/status", h.baseURL, collection(h.kind), url.PathEscape(a.WorkUnitID))
	payload, err := json.Marshal(struct {
		Status string `json:"status"`
		Reason string `json:"reason,omitempty"`
	}{string(a.Status), a.Reason})
	if err != nil {
		return err
	}
	_, err = h.do(ctx, http.MethodPatch, endpoint, payload, nil)
	return err
}

type wireEvidence struct {
	Type        string   `json:"type"`
	Reference   string   `json:"reference,omitempty"`
	Photo       string   `json:"photo,omitempty"`
	Signature   string   `json:"signature,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
	CapturedAt  string   `json:"captured_at"`
	ContentKey  string   `json:"content_key"`
	ActionTaken string   `json:"action_taken,omitempty"`
}

// HandleUploadEvidence uploads one evidence record. The content key is sent
// as the Idempotency-Key header; a 409 means the server already has it and
// counts as success.
func (h *HTTPClient) HandleUploadEvidence(ctx context.Context, a model.UploadEvidence) error {
	endpoint := fmt.Sprintf("%s/%s/%s/evidence", h.baseURL, collection(h.kind), url.PathEscape(a.WorkUnitID))
	w := wireEvidence{
		Type:        string(a.Type),
		Reference:   a.WorkUnitRef,
		Notes:       a.CombinedNotes(),
		CapturedAt:  a.CapturedAt.UTC().Format(time.RFC3339Nano),
		ContentKey:  a.ContentKey,
		ActionTaken: a.ActionTaken,
	}
	if len(a.Payload) > 0 {
		w.Photo = base64.StdEncoding.EncodeToString(a.Payload)
	}
	if len(a.Signature) > 0 {
		w.Signature = base64.StdEncoding.EncodeToString(a.Signature)
	}
	if a.Location != nil {
		lat, lng := a.Location.Lat, a.Location.Lng
		w.Lat, w.Lng = &lat, &lng
	}
	payload, err := json.Marshal(w)
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Idempotency-Key", a.ContentKey)
	_, err = h.do(ctx, http.MethodPost, endpoint, payload, headers)
	if status, ok := statusOf(err); ok && status == http.StatusConflict {
		return nil
	}
	return err
}

// statusError keeps the HTTP status next to the classified error.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func statusOf(err error) (int, bool) {
	se, ok := err.(*statusError)
	if !ok {
		return 0, false
	}
	return se.status, true
}

const maxErrorBody = 4 << 10

func (h *HTTPClient) do(ctx context.Context, method, endpoint string, body []byte, headers http.Header) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if tok := h.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	tracing.InjectHTTP(ctx, req.Header)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, ClassifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &statusError{
			status: resp.StatusCode,
			err:    ClassifyStatus(resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ClassifyError(fmt.Errorf("read response: %w", err))
	}
	return data, nil
}
