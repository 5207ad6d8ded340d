package interfaces

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nayanjcode/OBAI-InventoryService/internal/pkg/redis"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/application"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/infrastructure"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/infrastructure/adapter"
	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/infrastructure/rule"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	locks, err := adapter.NewRedisLockAdapter(redis.Wrap(rdb))
	require.NoError(t, err)
	policy, err := rule.NewCELAdmissionPolicy("")
	require.NoError(t, err)

	svc := application.NewInventoryApplicationService(infrastructure.NewMemoryStore(), locks, policy,
		noop.NewTracerProvider().Tracer("test"), nil,
		application.Options{LockWait: time.Second, LockHold: 10 * time.Second, ReserveTimeout: 5 * time.Second})

	mux := http.NewServeMux()
	NewInventoryHandler(svc).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestInventoryHandler_ProductLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/inventory/", map[string]any{"quantity": 10})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var saved application.ProductDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&saved))
	require.NotEqual(t, uuid.Nil, saved.ProductID)

	get, err := http.Get(srv.URL + "/inventory/" + saved.ProductID.String())
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	var got application.ProductDTO
	require.NoError(t, json.NewDecoder(get.Body).Decode(&got))
	assert.Equal(t, 10, got.Quantity)

	list, err := http.Get(srv.URL + "/inventory/")
	require.NoError(t, err)
	defer list.Body.Close()
	require.Equal(t, http.StatusOK, list.StatusCode)
	var products []application.ProductDTO
	require.NoError(t, json.NewDecoder(list.Body).Decode(&products))
	assert.Len(t, products, 1)
}

func TestInventoryHandler_Validate(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/inventory/", map[string]any{"quantity": 5})
	var saved application.ProductDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&saved))
	resp.Body.Close()

	reserve := func(qty int) bool {
		r := postJSON(t, srv.URL+"/inventory/validate", application.ReserveRequest{
			OrderID:  uuid.New(),
			Products: []application.OrderLineDTO{{ProductID: saved.ProductID, Quantity: qty}},
		})
		defer r.Body.Close()
		require.Equal(t, http.StatusOK, r.StatusCode)
		var ok bool
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ok))
		return ok
	}

	// 合并后溢出的订单行必须被拒绝
	huge := math.MaxInt/2 + 1
	r := postJSON(t, srv.URL+"/inventory/validate", application.ReserveRequest{
		OrderID: uuid.New(),
		Products: []application.OrderLineDTO{
			{ProductID: saved.ProductID, Quantity: huge},
			{ProductID: saved.ProductID, Quantity: huge},
		},
	})
	var overflowed bool
	require.NoError(t, json.NewDecoder(r.Body).Decode(&overflowed))
	r.Body.Close()
	assert.False(t, overflowed)

	assert.True(t, reserve(3))
	assert.False(t, reserve(3))
	assert.True(t, reserve(2))

	get, err := http.Get(srv.URL + "/inventory/" + saved.ProductID.String())
	require.NoError(t, err)
	defer get.Body.Close()
	var got application.ProductDTO
	require.NoError(t, json.NewDecoder(get.Body).Decode(&got))
	assert.Zero(t, got.Quantity, "available stock after reservations")
}

func TestInventoryHandler_Errors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		do     func() (*http.Response, error)
		status int
	}{
		{"not found", func() (*http.Response, error) { return http.Get(srv.URL + "/inventory/" + uuid.NewString()) }, http.StatusNotFound},
		{"bad id", func() (*http.Response, error) { return http.Get(srv.URL + "/inventory/not-a-uuid") }, http.StatusBadRequest},
		{"bad body", func() (*http.Response, error) {
			return http.Post(srv.URL+"/inventory/validate", "application/json", bytes.NewReader([]byte("{")))
		}, http.StatusBadRequest},
		{"negative quantity", func() (*http.Response, error) {
			return http.Post(srv.URL+"/inventory/", "application/json", bytes.NewReader([]byte(`{"quantity":-1}`)))
		}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.do()
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			var body ApiResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.status, body.Status)
		})
	}
}
