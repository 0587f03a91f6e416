package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fractal-vortex-chain/core"
)

const testAddrA = "fvc000000000000000000000000000000000001emyl"
const testAddrB = "fvc000000000000000000000000000000000002emyl"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := core.OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	node := core.NewNodeInstance(core.NodeConfig{
		PeerID:          "test-node",
		EnergyThreshold: 0.5,
		FractalLevels:   2,
		MinerAddress:    core.Address(testAddrA),
	}, store)
	return NewServer(node)
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "127.0.0.1:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandleLatestBlocksEmpty(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s.Router(), http.MethodGet, "/blocks/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleBlockByHeightNotFound(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s.Router(), http.MethodGet, "/blocks/5", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing block, got %d", w.Code)
	}
}

func TestHandleBlockByHeightBadHeight(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s.Router(), http.MethodGet, "/blocks/not-a-number", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed height, got %d", w.Code)
	}
}

func TestHandleBlockByHeightFound(t *testing.T) {
	s := newTestServer(t)
	block := &core.Block{Header: core.BlockHeader{Height: 1}}
	if err := s.node.Store().StoreBlock(block); err != nil {
		t.Fatalf("StoreBlock: %v", err)
	}
	w := doRequest(t, s.Router(), http.MethodGet, "/blocks/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleTransactionByHashNotFound(t *testing.T) {
	s := newTestServer(t)
	hash := "abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"[:64]
	w := doRequest(t, s.Router(), http.MethodGet, "/transactions/"+hash, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleTransactionByHashBadFormat(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s.Router(), http.MethodGet, "/transactions/zz", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed hash, got %d", w.Code)
	}
}

func TestHandleBalanceForUnknownAddressIsZero(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s.Router(), http.MethodGet, "/balance/"+testAddrA, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHandleBalanceRejectsBadAddress(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s.Router(), http.MethodGet, "/balance/not-an-address", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleClusterHealth(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s.Router(), http.MethodGet, "/cluster/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestHandleDeviceRegisterAndStatus(t *testing.T) {
	s := newTestServer(t)
	regBody := map[string]string{"device_id": "device-0001", "wallet_address": testAddrA}
	w := doRequest(t, s.Router(), http.MethodPost, "/devices/register", regBody)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 registering a device, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, s.Router(), http.MethodGet, "/devices/device-0001/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for device status, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleDeviceRegisterRejectsBadPayload(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s.Router(), http.MethodPost, "/devices/register", map[string]string{
		"device_id":      "short",
		"wallet_address": testAddrA,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a too-short device id, got %d", w.Code)
	}
}

func TestHandleHeartbeatUnknownDevice(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s.Router(), http.MethodPost, "/devices/ghost-0001/heartbeat", map[string]string{
		"session_token": "tok",
	})
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Success {
		t.Fatalf("expected success=false for an unknown device heartbeat")
	}
}

func TestHandleStartStopMining(t *testing.T) {
	s := newTestServer(t)
	doRequest(t, s.Router(), http.MethodPost, "/devices/register", map[string]string{
		"device_id":      "device-0001",
		"wallet_address": testAddrA,
	})

	w := doRequest(t, s.Router(), http.MethodPost, "/devices/device-0001/mining/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 starting mining, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, s.Router(), http.MethodPost, "/devices/device-0001/mining/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 stopping mining, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleWalletSendMovesBalance(t *testing.T) {
	s := newTestServer(t)
	if err := s.node.Store().SetBalance(core.Address(testAddrA), 10_000); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}

	w := doRequest(t, s.Router(), http.MethodPost, "/wallet/send", map[string]any{
		"from":   testAddrA,
		"to":     testAddrB,
		"amount": 100,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := s.node.Store().GetBalance(core.Address(testAddrB)); got != 100 {
		t.Fatalf("expected recipient to be credited 100, got %d", got)
	}
}

func TestHandleWalletSendRejectsInsufficientBalance(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s.Router(), http.MethodPost, "/wallet/send", map[string]any{
		"from":   testAddrA,
		"to":     testAddrB,
		"amount": 100,
	})
	if w.Code == http.StatusOK {
		t.Fatalf("expected an error sending from a zero balance")
	}
}

func TestHandleWalletSendRejectsMalformedAddress(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s.Router(), http.MethodPost, "/wallet/send", map[string]any{
		"from":   "not-an-address",
		"to":     testAddrB,
		"amount": 100,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s.Router(), http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", w.Code)
	}
}
