package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/richinsley/comfytryon/graphapi"
)

var ErrNotInitialized = errors.New("comfy client is not initialized")

type QueuedItemStoppedReason string

const (
	QueuedItemStoppedReasonFinished    QueuedItemStoppedReason = "finished"
	QueuedItemStoppedReasonInterrupted QueuedItemStoppedReason = "interrupted"
	QueuedItemStoppedReasonError       QueuedItemStoppedReason = "error"
)

type ComfyClientCallbacks struct {
	ClientQueueCountChanged func(*ComfyClient, int)
	QueuedItemStarted       func(*ComfyClient, *QueueItem)
	QueuedItemStopped       func(*ComfyClient, *QueueItem, QueuedItemStoppedReason)
	QueuedItemDataAvailable func(*ComfyClient, *QueueItem, *PromptMessageData)
}

// ComfyClient is the top level object that allows for interaction with the ComfyUI backend.
//
// Initializing a client satisfies the host's contract for using its node registry:
// one client identity, one websocket event stream, and the server's prompt queue
// fronted by the client's table of queued items.
type ComfyClient struct {
	scheme                string
	serverBaseAddress     string
	serverAddress         string
	serverPort            int
	clientid              string
	nodeobjects           *graphapi.NodeObjects
	initialized           bool
	queueditems           map[string]*QueueItem
	queuecount            int
	callbacks             *ComfyClientCallbacks
	lastProcessedPromptID string
	timeout               int
	retry                 int
	httpclient            *http.Client
	webSocket             *WebSocketConnection
	mu                    sync.Mutex
}

// NewComfyClientWithTimeout creates a new ComfyUI client with a connection timeout
// in seconds and a maximum number of websocket connection retries
func NewComfyClientWithTimeout(scheme string, server_address string, server_port int, callbacks *ComfyClientCallbacks, timeout int, retry int) *ComfyClient {
	c := NewComfyClient(scheme, server_address, server_port, callbacks)
	c.timeout = timeout
	c.retry = retry
	return c
}

// NewComfyClient creates a new ComfyUI client
func NewComfyClient(scheme string, server_address string, server_port int, callbacks *ComfyClientCallbacks) *ComfyClient {
	if scheme == "" {
		scheme = "http"
	}
	sbaseaddr := server_address + ":" + strconv.Itoa(server_port)
	cid := uuid.New().String()
	retv := &ComfyClient{
		scheme:            scheme,
		serverBaseAddress: sbaseaddr,
		serverAddress:     server_address,
		serverPort:        server_port,
		clientid:          cid,
		queueditems:       make(map[string]*QueueItem),
		initialized:       false,
		queuecount:        0,
		callbacks:         callbacks,
		timeout:           -1,
		retry:             5,
		httpclient:        &http.Client{},
	}
	return retv
}

// IsInitialized returns true if the client's websocket is connected and initialized
func (c *ComfyClient) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized && c.webSocket != nil && c.webSocket.Connected()
}

// CheckConnection checks if the websocket connection is still active and tries to reinitialize if not
func (c *ComfyClient) CheckConnection() error {
	if !c.IsInitialized() {
		// try to initialize first
		err := c.Init()
		if err != nil {
			return err
		}
	}
	return nil
}

// Init starts the websocket connection (if not already connected) and retrieves the collection of node objects
func (c *ComfyClient) Init() error {
	// Get the object infos for the Comfy Server
	object_infos, err := c.GetObjectInfos()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.nodeobjects = object_infos
	ws := c.webSocket
	c.mu.Unlock()

	if ws == nil || !ws.Connected() {
		ws = &WebSocketConnection{
			WebSocketURL:   c.websocketURL(),
			ConnectionDone: make(chan bool, 1),
			MaxRetry:       c.retry,
			BaseDelay:      1 * time.Second,
			MaxDelay:       30 * time.Second,
			Callback:       c,
		}
		if err := ws.ConnectWithManager(c.timeout); err != nil {
			return err
		}
		if !ws.Connected() {
			return fmt.Errorf("%w: could not connect to %s", ErrNotInitialized, ws.WebSocketURL)
		}
	}

	c.mu.Lock()
	c.webSocket = ws
	c.initialized = true
	c.mu.Unlock()
	return nil
}

// Close shuts down the websocket connection
func (c *ComfyClient) Close() error {
	c.mu.Lock()
	ws := c.webSocket
	c.webSocket = nil
	c.initialized = false
	c.mu.Unlock()
	if ws != nil {
		return ws.Close()
	}
	return nil
}

// ClientID returns the unique client ID for the connection to the ComfyUI backend
func (c *ComfyClient) ClientID() string {
	return c.clientid
}

// NodeObjects returns the node registry retrieved during Init
func (c *ComfyClient) NodeObjects() *graphapi.NodeObjects {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodeobjects
}

// QueueCount returns the number of prompts remaining in the server's queue, as last reported
func (c *ComfyClient) QueueCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queuecount
}

func (c *ComfyClient) baseURL() string {
	return fmt.Sprintf("%s://%s", c.scheme, c.serverBaseAddress)
}

func (c *ComfyClient) websocketURL() string {
	wsScheme := "ws"
	if c.scheme == "https" {
		wsScheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws?clientId=%s", wsScheme, c.serverBaseAddress, url.QueryEscape(c.clientid))
}

// GetQueuedItem returns a QueueItem that was queued with the ComfyClient, that has not been processed yet
// or is currently being processed.  Once a QueueItem has been processed, it will not be available with this method.
func (c *ComfyClient) GetQueuedItem(prompt_id string) *QueueItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	val, ok := c.queueditems[prompt_id]
	if ok {
		return val
	}
	return nil
}

func (c *ComfyClient) removeQueuedItem(qi *QueueItem) {
	c.mu.Lock()
	delete(c.queueditems, qi.PromptID)
	c.mu.Unlock()
}

// OnMessage is called by the websocket connection for every message received
func (c *ComfyClient) OnMessage(message string) {
	c.OnWindowSocketMessage(message)
}

// OnWindowSocketMessage processes each message received from the websocket connection to ComfyUI.
// The messages are parsed, and translated into PromptMessage structs and placed into the correct QueuedItem's message channel.
func (c *ComfyClient) OnWindowSocketMessage(msg string) {
	message := &WSStatusMessage{}
	err := json.Unmarshal([]byte(msg), &message)
	if err != nil {
		slog.Error("Deserializing Status Message:", "error", err)
		return
	}

	if message.Type == "status" {
		s := message.Data.(*WSMessageDataStatus)
		c.mu.Lock()
		c.queuecount = s.Status.ExecInfo.QueueRemaining
		c.mu.Unlock()
		if c.callbacks != nil && c.callbacks.ClientQueueCountChanged != nil {
			c.callbacks.ClientQueueCountChanged(c, s.Status.ExecInfo.QueueRemaining)
		}
		return
	}

	// find the queued item the message belongs to.  Older servers do not send
	// the prompt id with every message.
	promptID := message.PromptID()
	c.mu.Lock()
	if message.Type == "execution_start" {
		c.lastProcessedPromptID = promptID
	}
	if promptID == "" {
		promptID = c.lastProcessedPromptID
	}
	qi := c.queueditems[promptID]
	c.mu.Unlock()

	if qi == nil {
		if message.Data == nil {
			slog.Debug("Unhandled message type", "type", message.Type)
		}
		return
	}

	switch message.Type {
	case "execution_start":
		if c.callbacks != nil && c.callbacks.QueuedItemStarted != nil {
			c.callbacks.QueuedItemStarted(c, qi)
		}
		qi.send(PromptMessage{
			Type: "started",
			Message: &PromptMessageStarted{
				PromptID: qi.PromptID,
			},
		})
	case "execution_cached":
		s := message.Data.(*WSMessageDataExecutionCached)
		slog.Debug("Nodes cached", "prompt_id", qi.PromptID, "nodes", s.Nodes)
	case "executing":
		s := message.Data.(*WSMessageDataExecuting)
		if s.Node == nil {
			// final node was processed
			c.stop(qi, QueuedItemStoppedReasonFinished, nil)
			return
		}
		title := *s.Node
		if node, ok := qi.Prompt.GetNodeById(*s.Node); ok {
			title = node.Title()
		}
		qi.send(PromptMessage{
			Type: "executing",
			Message: &PromptMessageExecuting{
				NodeID: *s.Node,
				Title:  title,
			},
		})
	case "progress":
		s := message.Data.(*WSMessageDataProgress)
		qi.send(PromptMessage{
			Type: "progress",
			Message: &PromptMessageProgress{
				NodeID: s.Node,
				Value:  s.Value,
				Max:    s.Max,
			},
		})
	case "executed":
		s := message.Data.(*WSMessageDataExecuted)
		// collect the data from the output
		mdata := &PromptMessageData{
			NodeID: s.Node,
			Data:   make(map[string][]DataOutput),
		}
		for k, v := range s.Output {
			mdata.Data[k] = *v
		}
		if c.callbacks != nil && c.callbacks.QueuedItemDataAvailable != nil {
			c.callbacks.QueuedItemDataAvailable(c, qi, mdata)
		}
		qi.send(PromptMessage{
			Type:    "data",
			Message: mdata,
		})
	case "execution_success":
		c.stop(qi, QueuedItemStoppedReasonFinished, nil)
	case "execution_interrupted":
		c.stop(qi, QueuedItemStoppedReasonInterrupted, nil)
	case "execution_error":
		s := message.Data.(*WSMessageExecutionError)
		nodeName := s.Node
		if node, ok := qi.Prompt.GetNodeById(s.Node); ok {
			nodeName = node.Title()
		}
		c.stop(qi, QueuedItemStoppedReasonError, &PromptMessageStoppedException{
			NodeID:           s.Node,
			NodeType:         s.NodeType,
			NodeName:         nodeName,
			ExceptionMessage: s.ExceptionMessage,
			ExceptionType:    s.ExceptionType,
			Traceback:        s.Traceback,
		})
	default:
		slog.Debug("Unhandled message type", "type", message.Type)
	}
}

// stop removes the Item from our Queue before sending the final message.
// No other messages will be sent to the channel after this.
func (c *ComfyClient) stop(qi *QueueItem, reason QueuedItemStoppedReason, exception *PromptMessageStoppedException) {
	c.mu.Lock()
	_, queued := c.queueditems[qi.PromptID]
	delete(c.queueditems, qi.PromptID)
	c.mu.Unlock()
	if !queued {
		return
	}

	if c.callbacks != nil && c.callbacks.QueuedItemStopped != nil {
		c.callbacks.QueuedItemStopped(c, qi, reason)
	}
	qi.send(PromptMessage{
		Type: "stopped",
		Message: &PromptMessageStopped{
			QueueItem: qi,
			Reason:    reason,
			Exception: exception,
		},
	})
}
