package messaging

import (
	"sync"
	"sync/atomic"
)

// ConnectionManager tracks a connected/disconnected state and calls the
// registered callbacks on every transition. The zero value is disconnected.
type ConnectionManager struct {
	connected atomic.Bool

	cbLock          sync.Mutex
	disconnectedCBs []func()
	reconnectedCBs  []func()
}

// IsConnected tells the current state.
func (m *ConnectionManager) IsConnected() bool {
	return m.connected.Load()
}

// AddDisconnectedCB registers fn to be called when the state turns
// disconnected.
func (m *ConnectionManager) AddDisconnectedCB(fn func()) {
	m.cbLock.Lock()
	defer m.cbLock.Unlock()

	m.disconnectedCBs = append(m.disconnectedCBs, fn)
}

// AddReconnectedCB registers fn to be called when the state turns
// connected.
func (m *ConnectionManager) AddReconnectedCB(fn func()) {
	m.cbLock.Lock()
	defer m.cbLock.Unlock()

	m.reconnectedCBs = append(m.reconnectedCBs, fn)
}

// OnConnected switches to connected. Callbacks only run on a transition.
func (m *ConnectionManager) OnConnected() {
	if m.connected.Swap(true) {
		return
	}

	m.notify(&m.reconnectedCBs)
}

// OnDisconnected switches to disconnected. Callbacks only run on a
// transition.
func (m *ConnectionManager) OnDisconnected() {
	if !m.connected.Swap(false) {
		return
	}

	m.notify(&m.disconnectedCBs)
}

func (m *ConnectionManager) notify(cbs *[]func()) {
	m.cbLock.Lock()
	list := append([]func(){}, (*cbs)...)
	m.cbLock.Unlock()

	for _, fn := range list {
		fn()
	}
}
