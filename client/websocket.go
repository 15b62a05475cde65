package client

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Callback interface for handling incoming WebSocket messages
type WebSocketCallback interface {
	OnMessage(message string)
}

type WebSocketConnection struct {
	WebSocketURL   string
	Conn           *websocket.Conn
	ConnectionDone chan bool
	MaxRetry       int
	RetryCount     int
	Callback       WebSocketCallback

	// Exponential backoff configuration
	BaseDelay time.Duration // The initial delay, e.g., 1 second
	MaxDelay  time.Duration // The maximum delay, e.g., 1 minute
	Dialer    websocket.Dialer

	mu          sync.Mutex // For thread-safe access to the WebSocket connection
	isConnected bool
	closed      bool
}

// ConnectWithManager connects to the WebSocket using a connection manager
// timeoutSeconds is the maximum time to wait for a successful connection (0 for no waiting, <0 to wait indefinitely)
func (w *WebSocketConnection) ConnectWithManager(timeoutSeconds int) error {
	// Channel to signal a successful, or finally failed, connection
	connected := make(chan bool, 1)
	// Channel for connection attempts (ensures connect() is not called concurrently)
	attemptConnect := make(chan bool, 1)
	attemptConnect <- true // Trigger the first connection attempt immediately

	go func() {
		retries := 0
		for {
			select {
			case <-attemptConnect:
				err := w.connect()
				if err != nil {
					slog.Warn("Connection attempt failed", "url", w.WebSocketURL, "error", err)
					w.setConnected(false)

					// Check if the maximum number of retries has been reached
					retries++
					if retries > w.MaxRetry {
						slog.Error(fmt.Sprintf("Maximum number of retries reached (%d)", w.MaxRetry))
						close(connected) // Signal that the connection failed
						return
					}

					// Wait a bit before retrying to connect
					time.AfterFunc(w.getReconnectDelay(), func() {
						attemptConnect <- true
					})
				} else {
					w.setConnected(true)
					close(connected) // Signal that the connection was successful
					w.handleMessages()
					return // Exit the goroutine once the connection ends
				}
			case <-w.ConnectionDone:
				// Handle graceful shutdown
				return
			}
		}
	}()

	// Block until either a successful connection or timeout
	if timeoutSeconds > 0 {
		timeout := time.Duration(timeoutSeconds) * time.Second
		select {
		case <-connected:
			return nil
		case <-time.After(timeout):
			return fmt.Errorf("connection timeout after %v", timeout)
		}
	} else if timeoutSeconds < 0 {
		// wait indefinitely
		<-connected
	}

	return nil
}

func (w *WebSocketConnection) connect() error {
	conn, _, err := w.Dialer.Dial(w.WebSocketURL, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.Conn = conn
	w.RetryCount = 0
	w.mu.Unlock()
	return nil
}

// Connected reports whether the connection is currently established
func (w *WebSocketConnection) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isConnected
}

func (w *WebSocketConnection) setConnected(v bool) {
	w.mu.Lock()
	w.isConnected = v
	w.mu.Unlock()
}

// Close ends the connection and stops the manager
func (w *WebSocketConnection) Close() error {
	w.mu.Lock()
	conn := w.Conn
	w.closed = true
	w.mu.Unlock()
	select {
	case w.ConnectionDone <- true:
	default:
	}
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return conn.Close()
}

// Handle incoming WebSocket messages
func (w *WebSocketConnection) handleMessages() {
	defer func() {
		w.Conn.Close()
		w.setConnected(false)
	}()
	for {
		mt, message, err := w.Conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			closed := w.closed
			w.mu.Unlock()
			if !closed {
				slog.Warn(fmt.Sprintf("Read error: %v", err))
			}
			break
		}
		// binary frames carry preview images
		if mt != websocket.TextMessage {
			continue
		}
		if w.Callback != nil {
			w.Callback.OnMessage(string(message))
		}
	}
}

// exponential backoff calculation
func (w *WebSocketConnection) getReconnectDelay() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	// Calculate the delay as BaseDelay * 2^(RetryCount), capped at MaxDelay
	delay := w.BaseDelay * time.Duration(math.Pow(2, float64(w.RetryCount)))
	if delay > w.MaxDelay {
		delay = w.MaxDelay
	}
	w.RetryCount++ // Increment the retry counter for the next attempt
	return delay
}
