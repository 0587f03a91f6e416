package core

// device.go implements the mining device registry: a per-device heartbeat
// state machine guarded by a single mutex, mirrored to the ledger store on
// every mutating event.

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DeviceConnection is the in-memory record for one registered mining
// device.
type DeviceConnection struct {
	DeviceID        string
	SessionToken    string
	WalletAddress   Address
	LastHeartbeat   uint64
	LastActivity    uint64
	IsMining        bool
	ConnectionCount uint32

	// FailedCount is a diagnostics-only failed-heartbeat counter; it never
	// drives the state machine.
	FailedCount uint32
}

// StopCallback is invoked when a device stops mining, either voluntarily
// or by monitor-loop eviction. It must never reacquire the registry lock.
type StopCallback func(deviceID string)

// DeviceRegistry is the process-wide device auto-detection registry.
type DeviceRegistry struct {
	mu       sync.Mutex
	devices  map[string]*DeviceConnection
	store    *Store
	onStop   StopCallback

	heartbeatTimeoutSecs uint64
	gracePeriodSecs      uint64
}

// NewDeviceRegistry creates a registry backed by store, with the given
// heartbeat-timeout and grace-period parameters (this defaults: 45s /
// 90s).
func NewDeviceRegistry(store *Store, heartbeatTimeoutSecs, gracePeriodSecs uint64) *DeviceRegistry {
	return &DeviceRegistry{
		devices:              make(map[string]*DeviceConnection),
		store:                store,
		heartbeatTimeoutSecs: heartbeatTimeoutSecs,
		gracePeriodSecs:      gracePeriodSecs,
	}
}

// SetStopCallback installs the callback invoked whenever a device's mining
// stops. The callback must not call back into the registry.
func (r *DeviceRegistry) SetStopCallback(cb StopCallback) {
	r.mu.Lock()
	r.onStop = cb
	r.mu.Unlock()
}

// NewSessionToken generates a fresh opaque session token for a device.
func NewSessionToken() string {
	return uuid.NewString()
}

// Register creates or refreshes a device entry. If the id already exists,
// the record is refreshed (new session token, wallet address) but
// `is_mining` is preserved, 
func (r *DeviceRegistry) Register(deviceID, sessionToken string, wallet Address) (*DeviceConnection, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrValidation)
	}
	now := nowUnix()

	r.mu.Lock()
	dc, exists := r.devices[deviceID]
	if exists {
		dc.SessionToken = sessionToken
		dc.WalletAddress = wallet
		dc.LastHeartbeat = now
	} else {
		dc = &DeviceConnection{
			DeviceID:      deviceID,
			SessionToken:  sessionToken,
			WalletAddress: wallet,
			LastHeartbeat: now,
			LastActivity:  now,
			IsMining:      false,
		}
		r.devices[deviceID] = dc
	}
	snapshot := *dc
	r.mu.Unlock()

	if err := r.store.SetDeviceAddress(deviceID, wallet); err != nil {
		return nil, err
	}
	if err := r.store.SetDeviceSession(deviceID, sessionToken, now); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// HeartbeatResult is the server's response to a heartbeat (this's
// `POST /mining/heartbeat` contract).
type HeartbeatResult struct {
	ServerTime   uint64
	IsMining     bool
	Message      string
}

// ErrUnknownDevice and ErrBadSessionToken back the documented heartbeat
// failure messages.
var (
	ErrUnknownDevice   = fmt.Errorf("%w: unknown device", ErrValidation)
	ErrBadSessionToken = fmt.Errorf("%w: invalid session token", ErrValidation)
)

// Heartbeat processes a device heartbeat.
func (r *DeviceRegistry) Heartbeat(deviceID, sessionToken string) (HeartbeatResult, error) {
	now := nowUnix()

	r.mu.Lock()
	defer r.mu.Unlock()

	dc, ok := r.devices[deviceID]
	if !ok {
		return HeartbeatResult{}, ErrUnknownDevice
	}
	if dc.SessionToken != sessionToken {
		dc.FailedCount++
		return HeartbeatResult{Message: "Invalid session token"}, ErrBadSessionToken
	}

	dc.LastHeartbeat = now
	dc.LastActivity = now
	dc.ConnectionCount++

	return HeartbeatResult{ServerTime: now, IsMining: dc.IsMining}, nil
}

// StartMining marks a device as mining. Idempotent: calling it on an
// already-mining device succeeds and returns the existing session token.
func (r *DeviceRegistry) StartMining(deviceID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dc, ok := r.devices[deviceID]
	if !ok {
		return "", ErrUnknownDevice
	}
	dc.IsMining = true
	dc.LastActivity = nowUnix()
	return dc.SessionToken, nil
}

// StopMining marks a device as not mining.
func (r *DeviceRegistry) StopMining(deviceID string) error {
	r.mu.Lock()
	dc, ok := r.devices[deviceID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownDevice
	}
	dc.IsMining = false
	dc.LastActivity = nowUnix()
	r.mu.Unlock()
	return nil
}

// Unregister removes a device entirely, invoking the stop callback first
// if it was mining.
func (r *DeviceRegistry) Unregister(deviceID string) error {
	r.mu.Lock()
	dc, ok := r.devices[deviceID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownDevice
	}
	wasMining := dc.IsMining
	delete(r.devices, deviceID)
	cb := r.onStop
	r.mu.Unlock()

	if wasMining && cb != nil {
		cb(deviceID)
	}
	return r.store.RemoveDevice(deviceID)
}

// ActiveDevices returns a snapshot of every device currently mining, keyed
// by device id, mapped to its wallet address — exactly the set the
// ecosystem miner consumes each tick.
func (r *DeviceRegistry) ActiveDevices() map[string]Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Address)
	for id, dc := range r.devices {
		if dc.IsMining {
			out[id] = dc.WalletAddress
		}
	}
	return out
}

// Get returns a snapshot of a single device's state.
func (r *DeviceRegistry) Get(deviceID string) (DeviceConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dc, ok := r.devices[deviceID]
	if !ok {
		return DeviceConnection{}, false
	}
	return *dc, true
}

// RunMonitorTick performs one pass of the monitor loop: compute
// the eviction lists under the lock without invoking callbacks, drop the
// lock, then invoke callbacks and removals.
func (r *DeviceRegistry) RunMonitorTick() {
	now := nowUnix()

	r.mu.Lock()
	var toStop []string
	var toRemove []string
	for id, dc := range r.devices {
		delta := now - dc.LastHeartbeat
		if delta > r.heartbeatTimeoutSecs && dc.IsMining {
			if delta > r.gracePeriodSecs {
				dc.IsMining = false
				toStop = append(toStop, id)
			}
			continue
		}
		if delta > 2*r.gracePeriodSecs && !dc.IsMining {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		delete(r.devices, id)
	}
	cb := r.onStop
	r.mu.Unlock()

	if cb != nil {
		for _, id := range toStop {
			cb(id)
		}
	}
	for _, id := range toRemove {
		if err := r.store.RemoveDevice(id); err != nil {
			logrus.WithError(err).WithField("device_id", id).Warn("failed to remove evicted device")
		}
	}
}
