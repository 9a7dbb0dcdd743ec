package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adriangar333/Traceops-sub000/internal/model"
	"github.com/Adriangar333/Traceops-sub000/internal/syncerr"
)

type recordedRequest struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    []byte
}

func newServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Clone(), body})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code     int
		rejected bool
		ok       bool
	}{
		{200, false, true},
		{204, false, true},
		{400, true, false},
		{404, true, false},
		{422, true, false},
		{401, false, false},
		{408, false, false},
		{429, false, false},
		{500, false, false},
		{503, false, false},
	}
	for _, tt := range tests {
		err := ClassifyStatus(tt.code, "")
		if tt.ok {
			assert.NoError(t, err, tt.code)
			continue
		}
		assert.Equal(t, tt.rejected, syncerr.IsServerRejected(err), tt.code)
		assert.Equal(t, !tt.rejected, syncerr.IsTransportFailure(err), tt.code)
	}
}

func TestClassifyError(t *testing.T) {
	assert.NoError(t, ClassifyError(nil))
	assert.True(t, syncerr.IsTransportFailure(ClassifyError(io.ErrUnexpectedEOF)))

	rejected := syncerr.ServerRejected("x", nil)
	assert.Same(t, rejected, ClassifyError(rejected))
}

func TestNewHTTPClientValidates(t *testing.T) {
	_, err := NewHTTPClient("not a url", model.KindDelivery)
	assert.Error(t, err)
	_, err = NewHTTPClient("http://example.com", "bogus")
	assert.Error(t, err)
}

func TestFetchWorkUnits(t *testing.T) {
	srv, reqs := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"work_units":[
			{"id":"OS-1","reference":"R1","client_name":"Ana","lat":4.6,"lng":-74.1,"amount_due":1200.5,"priority":1,"status":"assigned"},
			{"id":"OS-2","status":"in_progress","updated_at":"2026-03-14T08:00:00Z"}
		]}`))
	})

	c, err := NewHTTPClient(srv.URL+"/api/", model.KindServiceOrder, WithToken(func() string { return "tok" }))
	require.NoError(t, err)

	units, err := c.FetchWorkUnits(context.Background(), "tech 7")
	require.NoError(t, err)
	require.Len(t, units, 2)

	assert.Equal(t, model.KindServiceOrder, units[0].Kind)
	assert.Equal(t, model.StatusPending, units[0].Status)
	assert.Equal(t, &model.Coordinates{Lat: 4.6, Lng: -74.1}, units[0].Location)
	assert.Nil(t, units[1].Location)
	assert.Equal(t, time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC), units[1].UpdatedAt)

	req := (*reqs)[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/api/service-orders", req.Path)
	assert.Equal(t, "assignee=tech+7", req.Query)
	assert.Equal(t, "Bearer tok", req.Headers.Get("Authorization"))
}

func TestFetchWorkUnitsBareArray(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"D-1","status":"pending"}]`))
	})
	c, err := NewHTTPClient(srv.URL, model.KindDelivery)
	require.NoError(t, err)

	units, err := c.FetchWorkUnits(context.Background(), "driver-1")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "D-1", units[0].ID)
}

func TestFetchWorkUnitsRejectsInvalidUnit(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"D-1","status":"exploded"}]`))
	})
	c, err := NewHTTPClient(srv.URL, model.KindDelivery)
	require.NoError(t, err)

	_, err = c.FetchWorkUnits(context.Background(), "driver-1")
	assert.Error(t, err)
}

func TestHandleUpdateStatus(t *testing.T) {
	srv, reqs := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c, err := NewHTTPClient(srv.URL, model.KindDelivery)
	require.NoError(t, err)

	err = Send(context.Background(), c, model.UpdateStatus{WorkUnitID: "D/1", Status: model.StatusFailed, Reason: "closed"})
	require.NoError(t, err)

	req := (*reqs)[0]
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "/deliveries/D/1/status", req.Path)
	assert.JSONEq(t, `{"status":"failed","reason":"closed"}`, string(req.Body))
	assert.Empty(t, req.Headers.Get("Authorization"))
}

func TestHandleUploadEvidence(t *testing.T) {
	srv, reqs := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	c, err := NewHTTPClient(srv.URL, model.KindServiceOrder)
	require.NoError(t, err)

	a := model.UploadEvidence{
		EvidenceID:  3,
		WorkUnitID:  "OS-9",
		WorkUnitRef: "REF-9",
		Type:        model.EvidencePhoto,
		Payload:     []byte{1, 2, 3},
		Notes:       "ok",
		Reading:     "55",
		ActionTaken: "cut",
		Location:    &model.Coordinates{Lat: 1.5, Lng: 2.5},
		CapturedAt:  time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		ContentKey:  strings.Repeat("ab", 32),
	}
	require.NoError(t, Send(context.Background(), c, a))

	req := (*reqs)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/service-orders/OS-9/evidence", req.Path)
	assert.Equal(t, a.ContentKey, req.Headers.Get("Idempotency-Key"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), body["photo"])
	assert.Equal(t, "ok | reading: 55 | action: cut", body["notes"])
	assert.Equal(t, "REF-9", body["reference"])
	assert.Equal(t, "2026-03-14T09:00:00Z", body["captured_at"])
	assert.Equal(t, 1.5, body["lat"])
}

func TestHandleUploadEvidenceConflictIsSuccess(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	c, err := NewHTTPClient(srv.URL, model.KindDelivery)
	require.NoError(t, err)

	err = c.HandleUploadEvidence(context.Background(), model.UploadEvidence{WorkUnitID: "D-1", ContentKey: "k"})
	assert.NoError(t, err)
}

func TestErrorsAreClassified(t *testing.T) {
	status := http.StatusUnprocessableEntity
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("bad status value"))
	})
	c, err := NewHTTPClient(srv.URL, model.KindDelivery)
	require.NoError(t, err)

	err = c.HandleUpdateStatus(context.Background(), model.UpdateStatus{WorkUnitID: "D-1", Status: model.StatusCompleted})
	require.Error(t, err)
	assert.True(t, syncerr.IsServerRejected(err))
	assert.Contains(t, err.Error(), "bad status value")

	status = http.StatusBadGateway
	err = c.HandleUpdateStatus(context.Background(), model.UpdateStatus{WorkUnitID: "D-1", Status: model.StatusCompleted})
	assert.True(t, syncerr.IsTransportFailure(err))
}

func TestUnreachableServerIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewHTTPClient(url, model.KindDelivery, WithHTTPClient(&http.Client{Timeout: time.Second}))
	require.NoError(t, err)
	_, err = c.FetchWorkUnits(context.Background(), "x")
	assert.True(t, syncerr.IsTransportFailure(err))
}

func TestIdentityFromToken(t *testing.T) {
	sign := func(claims jwt.MapClaims) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		return tok
	}

	id, err := IdentityFromToken(sign(jwt.MapClaims{"sub": "driver-42"}))
	require.NoError(t, err)
	assert.Equal(t, "driver-42", id)

	id, err = IdentityFromToken(sign(jwt.MapClaims{"id": float64(17)}))
	require.NoError(t, err)
	assert.Equal(t, "17", id)

	_, err = IdentityFromToken(sign(jwt.MapClaims{"name": "x"}))
	assert.ErrorIs(t, err, ErrNoSubject)

	_, err = IdentityFromToken("not-a-token")
	assert.Error(t, err)
}
