package connection

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/smukkama/safewalk/internal/protocol"
)

const defaultWriteTimeout = 5 * time.Second

// ClientInfo holds information about a connected device
type ClientInfo struct {
	ConnectionID  string
	DeviceID      string
	ConnectedAt   time.Time
	LastHeardFrom time.Time
	Conn          net.Conn
	mu            sync.RWMutex
	writeMu       sync.Mutex
}

// UpdateLastHeardFrom updates the last activity timestamp
func (c *ClientInfo) UpdateLastHeardFrom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastHeardFrom = time.Now()
}

// GetLastHeardFrom returns the last activity timestamp
func (c *ClientInfo) GetLastHeardFrom() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LastHeardFrom
}

// WriteLine writes one newline-terminated frame. Writes from the read loop
// and from engines are serialized per connection.
func (c *ClientInfo) WriteLine(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(timeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	_, err := c.Conn.Write(append(data, '\n'))
	return err
}

// Manager manages all active device connections
type Manager struct {
	clients      map[string]*ClientInfo // key: connection_id
	byDevice     map[string]string      // key: device_id, value: connection_id
	mu           sync.RWMutex
	maxConns     int
	writeTimeout time.Duration
}

// NewManager creates a new connection manager
func NewManager(maxConnections int) *Manager {
	return &Manager{
		clients:      make(map[string]*ClientInfo),
		byDevice:     make(map[string]string),
		maxConns:     maxConnections,
		writeTimeout: defaultWriteTimeout,
	}
}

// Register adds a new device connection. A device has at most one live
// session; an older connection for the same device is closed and replaced.
func (m *Manager) Register(connectionID, deviceID string, conn net.Conn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.clients) >= m.maxConns {
		return ErrMaxConnectionsReached
	}
	if _, exists := m.clients[connectionID]; exists {
		return fmt.Errorf("connection ID %s already registered", connectionID)
	}

	if oldID, ok := m.byDevice[deviceID]; ok {
		if old, ok := m.clients[oldID]; ok {
			old.Conn.Close()
		}
	}

	now := time.Now()
	m.clients[connectionID] = &ClientInfo{
		ConnectionID:  connectionID,
		DeviceID:      deviceID,
		ConnectedAt:   now,
		LastHeardFrom: now,
		Conn:          conn,
	}
	m.byDevice[deviceID] = connectionID
	return nil
}

// Unregister removes a device connection
func (m *Manager) Unregister(connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, exists := m.clients[connectionID]
	if !exists {
		return fmt.Errorf("connection ID %s not found", connectionID)
	}

	// Only drop the device index if it still points at this connection.
	if m.byDevice[client.DeviceID] == connectionID {
		delete(m.byDevice, client.DeviceID)
	}
	delete(m.clients, connectionID)
	return nil
}

// Get retrieves client information by connection ID
func (m *Manager) Get(connectionID string) (*ClientInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, exists := m.clients[connectionID]
	return client, exists
}

// GetByDevice returns the live connection of a device
func (m *Manager) GetByDevice(deviceID string) (*ClientInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connID, ok := m.byDevice[deviceID]
	if !ok {
		return nil, false
	}
	client, ok := m.clients[connID]
	return client, ok
}

// IsConnected reports whether the device has a live connection
func (m *Manager) IsConnected(deviceID string) bool {
	_, ok := m.GetByDevice(deviceID)
	return ok
}

// UpdateActivity updates the last heard from timestamp for a connection
func (m *Manager) UpdateActivity(connectionID string) error {
	m.mu.RLock()
	client, exists := m.clients[connectionID]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("connection ID %s not found", connectionID)
	}

	client.UpdateLastHeardFrom()
	return nil
}

// GetInactiveConnections returns connection IDs that haven't been heard from in the given duration
func (m *Manager) GetInactiveConnections(timeout time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var inactive []string
	for connID, client := range m.clients {
		if now.Sub(client.GetLastHeardFrom()) > timeout {
			inactive = append(inactive, connID)
		}
	}
	return inactive
}

// Send encodes msg and writes it to the device's live connection
func (m *Manager) Send(deviceID string, msg interface{}) error {
	client, ok := m.GetByDevice(deviceID)
	if !ok {
		return ErrNotConnected
	}
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := client.WriteLine(data, m.writeTimeout); err != nil {
		return fmt.Errorf("failed to write to %s: %w", deviceID, err)
	}
	return nil
}

// SendCommand pushes a command to a connected device.
func (m *Manager) SendCommand(ctx context.Context, deviceID string, cmd *protocol.CommandMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.Send(deviceID, cmd)
}

// Count returns the total number of active connections
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// GetAllConnections returns all connection IDs
func (m *Manager) GetAllConnections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connIDs := make([]string, 0, len(m.clients))
	for connID := range m.clients {
		connIDs = append(connIDs, connID)
	}
	return connIDs
}

// Stats returns statistics about the connection manager
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ManagerStats{
		TotalConnections: len(m.clients),
		UniqueDevices:    len(m.byDevice),
		MaxConnections:   m.maxConns,
	}
}

// ManagerStats contains statistics about the connection manager
type ManagerStats struct {
	TotalConnections int `json:"total_connections"`
	UniqueDevices    int `json:"unique_devices"`
	MaxConnections   int `json:"max_connections"`
}

var (
	ErrMaxConnectionsReached = &ConnectionError{"maximum connections reached"}
	ErrNotConnected          = &ConnectionError{"device is not connected"}
)

// ConnectionError represents a connection error
type ConnectionError struct {
	msg string
}

func (e *ConnectionError) Error() string {
	return e.msg
}
