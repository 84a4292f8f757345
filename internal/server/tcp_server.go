package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smukkama/safewalk/internal/connection"
	"github.com/smukkama/safewalk/internal/ingest"
	"github.com/smukkama/safewalk/internal/protocol"
	"github.com/smukkama/safewalk/internal/timer"
	"github.com/smukkama/safewalk/pkg/config"
	"go.uber.org/zap"
)

const readPollInterval = 30 * time.Second

// TCPServer accepts device connections speaking line-delimited JSON
type TCPServer struct {
	config       *config.TCPServerConfig
	connManager  *connection.Manager
	timerManager *timer.Manager
	router       *ingest.Router
	logger       *zap.Logger
	listener     net.Listener
	wg           sync.WaitGroup
	stopCh       chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewTCPServer creates a new TCP server
func NewTCPServer(cfg *config.TCPServerConfig, connManager *connection.Manager, timerManager *timer.Manager, router *ingest.Router, logger *zap.Logger) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPServer{
		config:       cfg,
		connManager:  connManager,
		timerManager: timerManager,
		router:       router,
		logger:       logger,
		stopCh:       make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the TCP server
func (s *TCPServer) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on an existing listener
func (s *TCPServer) Serve(listener net.Listener) error {
	s.listener = listener
	s.logger.Info("TCP server listening", zap.String("addr", listener.Addr().String()))

	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

// Addr returns the listening address
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the TCP server gracefully
func (s *TCPServer) Stop() {
	close(s.stopCh)
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}
	for _, connID := range s.connManager.GetAllConnections() {
		if client, ok := s.connManager.Get(connID); ok {
			client.Conn.Close()
		}
	}

	s.wg.Wait()
	s.logger.Info("TCP server stopped")
}

func (s *TCPServer) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Warn("Failed to accept connection", zap.Error(err))
				continue
			}
		}

		if s.connManager.Count() >= s.config.MaxConnections {
			s.logger.Warn("Maximum connections reached, rejecting connection",
				zap.String("remote_addr", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *TCPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	connectionID := uuid.New().String()
	logger := s.logger.With(zap.String("connection_id", connectionID))
	logger.Debug("New connection", zap.String("remote_addr", conn.RemoteAddr().String()))

	conn.SetReadDeadline(time.Now().Add(s.config.IdentifyTimeout))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		logger.Debug("Failed to read identify message", zap.Error(err))
		return
	}

	msg, err := protocol.ParseMessage([]byte(line))
	if err != nil {
		logger.Warn("Failed to parse identify message", zap.Error(err))
		s.sendError(conn)
		return
	}

	identifyMsg, ok := msg.(*protocol.IdentifyMessage)
	if !ok {
		logger.Warn("Expected identify message", zap.String("got", fmt.Sprintf("%T", msg)))
		s.sendError(conn)
		return
	}
	deviceID := identifyMsg.DeviceID
	logger = logger.With(zap.String("device_id", deviceID))

	if err := s.connManager.Register(connectionID, deviceID, conn); err != nil {
		logger.Warn("Failed to register device", zap.Error(err))
		s.sendError(conn)
		return
	}
	defer func() {
		s.timerManager.Cancel(inactivityTimerID(connectionID))
		s.connManager.Unregister(connectionID)
	}()

	logger.Info("Device identified")

	if err := s.connManager.Send(deviceID, protocol.NewAckMessage(protocol.AckStatusIdentified)); err != nil {
		logger.Warn("Failed to send ack", zap.Error(err))
		return
	}

	s.scheduleInactivityTimer(connectionID, logger)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(readPollInterval))
		line, err := reader.ReadString('\n')
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			logger.Info("Connection closed", zap.Error(err))
			return
		}

		msg, err := protocol.ParseMessage([]byte(line))
		if err != nil {
			logger.Warn("Failed to parse message", zap.Error(err))
			s.reply(connectionID, protocol.NewAckMessage(protocol.AckStatusError), logger)
			continue
		}

		ack, err := s.router.Route(s.ctx, deviceID, msg)
		if err != nil {
			logger.Warn("Failed to handle message", zap.String("type", fmt.Sprintf("%T", msg)), zap.Error(err))
		}
		if ack != nil {
			s.reply(connectionID, ack, logger)
		}

		s.connManager.UpdateActivity(connectionID)
		s.scheduleInactivityTimer(connectionID, logger)
	}
}

// reply writes on this connection, which may no longer be the device's
// current session after a reconnect.
func (s *TCPServer) reply(connectionID string, msg interface{}, logger *zap.Logger) {
	client, ok := s.connManager.Get(connectionID)
	if !ok {
		return
	}
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		logger.Error("Failed to encode reply", zap.Error(err))
		return
	}
	if err := client.WriteLine(data, 5*time.Second); err != nil {
		logger.Warn("Failed to send reply", zap.Error(err))
	}
}

func (s *TCPServer) sendError(conn net.Conn) {
	data, err := protocol.EncodeMessage(protocol.NewAckMessage(protocol.AckStatusError))
	if err != nil {
		return
	}
	conn.Write(append(data, '\n'))
}

func inactivityTimerID(connectionID string) string {
	return "inactivity-" + connectionID
}

func (s *TCPServer) scheduleInactivityTimer(connectionID string, logger *zap.Logger) {
	expiryAt := time.Now().Add(s.config.InactivityTimeout)

	callback := func() {
		client, exists := s.connManager.Get(connectionID)
		if !exists {
			return
		}
		logger.Info("Inactivity timeout, closing connection")
		// Unregister happens in the read loop's deferred cleanup.
		client.Conn.Close()
	}

	if err := s.timerManager.Schedule(inactivityTimerID(connectionID), expiryAt, callback); err != nil {
		logger.Warn("Failed to schedule inactivity timer", zap.Error(err))
	}
}
