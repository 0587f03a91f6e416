package httpapi

// router.go wires the full HTTP surface onto a single node instance:
// reads, writes and the SSE event stream, all in one file since the
// surface is small.

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"fractal-vortex-chain/core"
)

// Server bundles everything a request handler needs: the node it serves
// and the broadcaster feeding the SSE stream.
type Server struct {
	node   *core.NodeInstance
	events *Broadcaster
}

// NewServer wires a Server around an already-started node instance.
func NewServer(node *core.NodeInstance) *Server {
	return &Server{node: node, events: NewBroadcaster()}
}

// Events returns the broadcaster behind the SSE stream. Within this
// package only the wallet-send handler publishes onto it; nothing in core
// or cmd/fvnode publishes onto it.
func (s *Server) Events() *Broadcaster { return s.events }

// Router builds the chi router exposing the full HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/metrics", MetricsHandler().ServeHTTP)

	r.Route("/blocks", func(r chi.Router) {
		r.Get("/", s.handleLatestBlocks)
		r.Get("/{height}", s.handleBlockByHeight)
	})
	r.Get("/transactions/{hash}", s.handleTransactionByHash)
	r.Get("/address/{addr}/transactions", s.handleTransactionsForAddress)
	r.Get("/balance/{addr}", s.handleBalance)
	r.Get("/cluster/health", s.handleClusterHealth)
	r.Get("/devices/{id}/status", s.handleDeviceStatus)
	r.Get("/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(RateLimit)
		r.Post("/devices/register", s.handleDeviceRegister)
		r.Post("/devices/{id}/unregister", s.handleDeviceUnregister)
		r.Post("/devices/{id}/heartbeat", s.handleHeartbeat)
		r.Post("/devices/{id}/mining/start", s.handleStartMining)
		r.Post("/devices/{id}/mining/stop", s.handleStopMining)
		r.Post("/wallet/send", s.handleWalletSend)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logrus.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Info("http: request")
		next.ServeHTTP(w, r)
	})
}

// blockView is a Block plus the smart-rate fields GET /blocks injects.
type blockView struct {
	*core.Block
	SmartRate float64 `json:"smart_rate"`
}

func (s *Server) decorateBlock(b *core.Block) blockView {
	rate := core.SmartRate(core.SmartRateInputs{
		Height:           b.Header.Height,
		TransactionCount: s.node.Store().TransactionCount(),
		ActiveNodes:      uint64(len(s.node.Devices().ActiveDevices())) + 1,
		AvgBlockTime:     float64(core.TargetBlockTimeSecs),
	})
	return blockView{Block: b, SmartRate: rate}
}

func (s *Server) handleLatestBlocks(w http.ResponseWriter, r *http.Request) {
	limitPtr, err := parseLimitQuery(r)
	if err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}
	limit, err := core.ValidateLimit(limitPtr)
	if err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}
	blocks := s.node.Store().GetLatestBlocks(limit)
	views := make([]blockView, 0, len(blocks))
	for _, b := range blocks {
		views = append(views, s.decorateBlock(b))
	}
	recordGauges(healthyNodesFor(s), s.node.Miner().SmartRateTrend(), s.node.Store().LatestHeight())
	writeData(w, http.StatusOK, views)
}

func (s *Server) handleBlockByHeight(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(chi.URLParam(r, "height"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: height must be an integer", core.ErrValidation))
		return
	}
	if err := core.ValidateBlockHeight(height); err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}
	b, ok := s.node.Store().GetBlockByHeight(height)
	if !ok {
		writeError(w, http.StatusNotFound, core.ErrNotFound)
		return
	}
	writeData(w, http.StatusOK, s.decorateBlock(b))
}

func (s *Server) handleTransactionByHash(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if err := core.ValidateTransactionHash(hash); err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}
	tx, ok := s.node.Store().GetTransaction(hash)
	if !ok {
		writeError(w, http.StatusNotFound, core.ErrNotFound)
		return
	}
	writeData(w, http.StatusOK, tx)
}

func (s *Server) handleTransactionsForAddress(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")
	if err := core.ValidateAddress(addr); err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}
	limitPtr, err := parseLimitQuery(r)
	if err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}
	limit, err := core.ValidateLimit(limitPtr)
	if err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}
	var kind *core.TxKind
	if k := r.URL.Query().Get("kind"); k != "" {
		tk := core.TxKind(k)
		kind = &tk
	}
	txs := s.node.Store().TransactionsForAddress(core.Address(addr), kind, limit)
	writeData(w, http.StatusOK, txs)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")
	if err := core.ValidateAddress(addr); err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}
	bal := s.node.Store().GetBalance(core.Address(addr))
	writeData(w, http.StatusOK, map[string]uint64{"balance": bal})
}

func (s *Server) handleClusterHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"started":            s.node.State().Started(),
		"total_transactions": s.node.State().TotalTransactions(),
		"latest_height":      s.node.Store().LatestHeight(),
	})
}

func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := core.ValidateDeviceID(id); err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}
	dc, ok := s.node.Devices().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, core.ErrUnknownDevice)
		return
	}
	height := s.node.Store().LatestHeight()
	writeData(w, http.StatusOK, map[string]any{
		"device_id":      dc.DeviceID,
		"is_mining":      dc.IsMining,
		"last_heartbeat": dc.LastHeartbeat,
		"smart_rate":     s.node.Miner().SmartRateTrend(),
		"daily_reward":   core.EstimateDailyReward(height, len(s.node.Devices().ActiveDevices())),
	})
}

func (s *Server) handleDeviceRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
		Address  string `json:"wallet_address"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := core.ValidateDeviceID(req.DeviceID); err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}
	if err := core.ValidateAddress(req.Address); err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}
	token := core.NewSessionToken()
	dc, err := s.node.Devices().Register(req.DeviceID, token, core.Address(req.Address))
	if err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"device": dc, "session_token": token})
}

func (s *Server) handleDeviceUnregister(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.node.Devices().Unregister(id); err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"unregistered": true})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		SessionToken string `json:"session_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.node.Devices().Heartbeat(id, req.SessionToken)
	if err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"success":       true,
		"server_time":   res.ServerTime,
		"mining_status": res.IsMining,
		"message":       "ok",
	})
}

func (s *Server) handleStartMining(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	token, err := s.node.Devices().StartMining(id)
	if err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"session_token": token})
}

func (s *Server) handleStopMining(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.node.Devices().StopMining(id); err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"mining": false})
}

func (s *Server) handleWalletSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Amount uint64 `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	for _, addr := range []string{req.From, req.To} {
		if err := core.ValidateAddress(addr); err != nil {
			writeError(w, core.HTTPStatus(err), err)
			return
		}
	}
	if err := core.ValidateAmount(req.Amount); err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}

	if err := s.node.Store().Transfer(core.Address(req.From), core.Address(req.To), req.Amount, core.DefaultTransferFee); err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}

	ts := uint64(time.Now().Unix())
	tx := &core.Transaction{
		Hash:      transferHash(req.From, req.To, req.Amount, ts),
		From:      req.From,
		To:        req.To,
		Amount:    req.Amount,
		Timestamp: ts,
		Kind:      core.TxTransfer,
	}
	if err := s.node.Store().AddTransaction(tx); err != nil {
		writeError(w, core.HTTPStatus(err), err)
		return
	}
	s.events.Publish(Event{Type: "new_transaction", Payload: tx})
	writeData(w, http.StatusOK, tx)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, core.ErrNode)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := s.events.Subscribe()
	defer s.events.Unsubscribe(ch)

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			frame, err := encodeSSE(ev)
			if err != nil {
				continue
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		case <-heartbeat.C:
			frame, _ := encodeSSE(heartbeatEvent())
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}
}

func parseLimitQuery(r *http.Request) (*int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: limit must be an integer", core.ErrValidation)
	}
	return &n, nil
}

func transferHash(from, to string, amount, ts uint64) string {
	fd := core.FractalHash([]byte(from+":"+to+":"+strconv.FormatUint(amount, 10)+":"+strconv.FormatUint(ts, 10)), 1)
	return core.Hash(fd.Digest).Hex()
}

func healthyNodesFor(s *Server) int {
	if s.node.State().Started() {
		return 1
	}
	return 0
}
