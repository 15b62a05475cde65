// Package fakecomfy is an in-process stand-in for a ComfyUI server, used by tests.
// It publishes a node registry, accepts prompts and replays the websocket events a
// real server emits while executing them.
package fakecomfy

import (
	"bytes"
	_ "embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/richinsley/comfytryon/graphapi"
)

// ObjectInfo is a registry containing every node the try-on pipeline uses
//
//go:embed objectinfo.json
var ObjectInfo []byte

// Outcome selects how the server executes the prompts it accepts
type Outcome int

const (
	Succeed Outcome = iota
	// Fail reports an execution error on the sampler
	Fail
	// Reject refuses the prompt with a validation error
	Reject
	// Hang starts executing and waits for an interrupt
	Hang
)

// Queued is a prompt the server accepted
type Queued struct {
	ID       string
	Number   int
	ClientID string
	Prompt   *graphapi.Prompt
	Outputs  map[string][]map[string]string
	Done     bool
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

type Server struct {
	*httptest.Server

	mu         sync.Mutex
	outcome    Outcome
	objectInfo []byte
	conns      map[string]*wsConn
	queued     []*Queued
	uploads    map[string][]byte
	files      map[string][]byte
	deleted    []string
	interrupts int
	interrupt  chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once
	upgrader   websocket.Upgrader
}

// New starts a server publishing objectInfo and stops it when the test ends.
// A nil objectInfo publishes ObjectInfo.
func New(t testing.TB, objectInfo []byte) *Server {
	t.Helper()
	if objectInfo == nil {
		objectInfo = ObjectInfo
	}
	s := &Server{
		objectInfo: objectInfo,
		conns:      make(map[string]*wsConn),
		uploads:    make(map[string][]byte),
		files:      make(map[string][]byte),
		interrupt:  make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/object_info", s.handleObjectInfo)
	r.Get("/system_stats", s.handleSystemStats)
	r.Get("/embeddings", s.handleEmbeddings)
	r.Get("/prompt", s.handleQueueInfo)
	r.Post("/prompt", s.handlePrompt)
	r.Post("/queue", s.handleQueue)
	r.Post("/interrupt", s.handleInterrupt)
	r.Get("/history", s.handleHistory)
	r.Get("/history/{promptID}", s.handleHistory)
	r.Post("/history", s.handleEraseHistory)
	r.Get("/view", s.handleView)
	r.Post("/upload/image", s.handleUpload)
	r.Get("/ws", s.handleWebSocket)
	return r
}

// Close drops websocket clients and shuts the server down
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		for _, c := range s.conns {
			c.conn.Close()
		}
		s.mu.Unlock()
		s.Server.Close()
	})
}

// Addr returns the host and port the server listens on
func (s *Server) Addr() (string, int) {
	addr := s.Listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// SetOutcome changes how subsequently queued prompts are executed
func (s *Server) SetOutcome(o Outcome) {
	s.mu.Lock()
	s.outcome = o
	s.mu.Unlock()
}

// Queued returns the prompts accepted so far
func (s *Server) Queued() []*Queued {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Queued(nil), s.queued...)
}

// PutFile makes data downloadable from /view under the given type and subfolder
func (s *Server) PutFile(typ string, subfolder string, filename string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path.Join(typ, subfolder, filename)] = data
}

// Uploads returns the uploaded files keyed by the name they were stored under
func (s *Server) Uploads() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	retv := make(map[string][]byte, len(s.uploads))
	for k, v := range s.uploads {
		retv[k] = v
	}
	return retv
}

// Deleted returns the prompt ids removed from the queue
func (s *Server) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// Interrupts returns the number of interrupt requests received
func (s *Server) Interrupts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupts
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleObjectInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(s.objectInfo)
}

func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"system": map[string]interface{}{
			"os":              "posix",
			"python_version":  "3.11.9",
			"embedded_python": false,
			"comfyui_version": "0.3.10",
		},
		"devices": []map[string]interface{}{{
			"name":             "cuda:0 NVIDIA GeForce RTX 3090 : cudaMallocAsync",
			"type":             "cuda",
			"index":            0,
			"vram_total":       25393692672,
			"vram_free":        24110956544,
			"torch_vram_total": 0,
			"torch_vram_free":  0,
		}},
	})
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []string{"easynegative"})
}

func (s *Server) handleQueueInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	remaining := 0
	for _, q := range s.queued {
		if !q.Done {
			remaining++
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exec_info": map[string]interface{}{"queue_remaining": remaining},
	})
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	// keep seeds above 2^53 exact
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	prompt := &graphapi.Prompt{}
	if err := dec.Decode(prompt); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":       map[string]interface{}{"type": "invalid_prompt", "message": err.Error(), "details": "", "extra_info": map[string]interface{}{}},
			"node_errors": map[string]interface{}{},
		})
		return
	}

	s.mu.Lock()
	outcome := s.outcome
	if outcome == Reject {
		s.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": map[string]interface{}{
				"type":       "prompt_outputs_failed_validation",
				"message":    "Prompt outputs failed validation",
				"details":    "",
				"extra_info": map[string]interface{}{},
			},
			"node_errors": map[string]interface{}{
				"1": map[string]interface{}{
					"errors": []map[string]interface{}{{
						"type":    "value_not_in_list",
						"message": "Value not in list",
						"details": "ckpt_name: 'missing.safetensors' not in []",
					}},
					"class_type": "CheckpointLoaderSimple",
				},
			},
		})
		return
	}
	q := &Queued{
		ID:       uuid.New().String(),
		Number:   len(s.queued),
		ClientID: prompt.ClientID,
		Prompt:   prompt,
		Outputs:  make(map[string][]map[string]string),
	}
	s.queued = append(s.queued, q)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"prompt_id":   q.ID,
		"number":      q.Number,
		"node_errors": map[string]interface{}{},
	})

	go s.execute(q, outcome)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delete []string `json:"delete"`
		Clear  bool     `json:"clear"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.deleted = append(s.deleted, req.Delete...)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.interrupts++
	s.mu.Unlock()
	select {
	case s.interrupt <- struct{}{}:
	default:
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "promptID")
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make(map[string]interface{})
	for _, q := range s.queued {
		if !q.Done || (id != "" && q.ID != id) {
			continue
		}
		outputs := make(map[string]interface{})
		outputIDs := make([]string, 0, len(q.Outputs))
		for nodeID, images := range q.Outputs {
			outputs[nodeID] = map[string]interface{}{"images": images}
			outputIDs = append(outputIDs, nodeID)
		}
		history[q.ID] = map[string]interface{}{
			"prompt":  []interface{}{q.Number, q.ID, q.Prompt.Nodes, map[string]interface{}{"client_id": q.ClientID}, outputIDs},
			"outputs": outputs,
			"status":  map[string]interface{}{"status_str": "success", "completed": true},
		}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleEraseHistory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delete []string `json:"delete"`
		Clear  bool     `json:"clear"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	kept := s.queued[:0]
	for _, q := range s.queued {
		if q.Done && (req.Clear || containsString(req.Delete, q.ID)) {
			continue
		}
		kept = append(kept, q)
	}
	s.queued = kept
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := path.Join(q.Get("type"), q.Get("subfolder"), q.Get("filename"))
	s.mu.Lock()
	data, ok := s.files[key]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(data)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	subfolder := r.FormValue("subfolder")
	filetype := r.FormValue("type")
	if filetype == "" {
		filetype = "input"
	}
	overwrite := r.FormValue("overwrite") == "true"

	s.mu.Lock()
	name := header.Filename
	if !overwrite {
		ext := path.Ext(name)
		base := strings.TrimSuffix(name, ext)
		for i := 1; ; i++ {
			if _, exists := s.uploads[path.Join(subfolder, name)]; !exists {
				break
			}
			name = fmt.Sprintf("%s (%d)%s", base, i, ext)
		}
	}
	s.uploads[path.Join(subfolder, name)] = data
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"name":      name,
		"subfolder": subfolder,
		"type":      filetype,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.New().String()
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsConn{conn: conn}
	s.mu.Lock()
	s.conns[clientID] = c
	s.mu.Unlock()

	_ = c.writeJSON(map[string]interface{}{
		"type": "status",
		"data": map[string]interface{}{
			"status": map[string]interface{}{"exec_info": map[string]interface{}{"queue_remaining": 0}},
			"sid":    clientID,
		},
	})

	// read until the client goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.mu.Lock()
	if s.conns[clientID] == c {
		delete(s.conns, clientID)
	}
	s.mu.Unlock()
	conn.Close()
}

// conn waits for the websocket of clientID to be registered
func (s *Server) conn(clientID string) *wsConn {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		c := s.conns[clientID]
		s.mu.Unlock()
		if c != nil {
			return c
		}
		select {
		case <-s.closed:
			return nil
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

func (s *Server) emit(c *wsConn, typ string, data map[string]interface{}) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	return c.writeJSON(map[string]interface{}{"type": typ, "data": data}) == nil
}

func (s *Server) execute(q *Queued, outcome Outcome) {
	c := s.conn(q.ClientID)
	if c == nil {
		return
	}
	pid := q.ID
	ids := q.Prompt.NodeIDs()

	if !s.emit(c, "execution_start", map[string]interface{}{"prompt_id": pid}) {
		return
	}
	s.emit(c, "execution_cached", map[string]interface{}{"nodes": []string{}, "prompt_id": pid})

	switch outcome {
	case Fail:
		s.emit(c, "executing", map[string]interface{}{"node": ids[0], "prompt_id": pid})
		s.finish(q)
		s.emit(c, "execution_error", map[string]interface{}{
			"prompt_id":         pid,
			"node_id":           samplerID(q.Prompt),
			"node_type":         "KSampler",
			"executed":          ids[:1],
			"exception_message": "CUDA out of memory",
			"exception_type":    "torch.OutOfMemoryError",
			"traceback":         []string{},
			"current_inputs":    map[string]interface{}{},
			"current_outputs":   map[string]interface{}{},
		})
		return
	case Hang:
		node := samplerID(q.Prompt)
		s.emit(c, "executing", map[string]interface{}{"node": node, "prompt_id": pid})
		select {
		case <-s.interrupt:
		case <-s.closed:
			return
		}
		s.finish(q)
		s.emit(c, "execution_interrupted", map[string]interface{}{
			"prompt_id": pid,
			"node_id":   node,
			"node_type": "KSampler",
			"executed":  []string{},
		})
		return
	}

	for _, id := range ids {
		node := q.Prompt.Nodes[id]
		s.emit(c, "executing", map[string]interface{}{"node": id, "prompt_id": pid})
		switch node.ClassType {
		case "KSampler":
			for v := 1; v <= 3; v++ {
				s.emit(c, "progress", map[string]interface{}{"value": v, "max": 3, "node": id, "prompt_id": pid})
			}
		case "SaveImage":
			images := s.save(q, id, node)
			s.emit(c, "executed", map[string]interface{}{
				"node":      id,
				"output":    map[string]interface{}{"images": images},
				"prompt_id": pid,
			})
		}
	}
	// history is written before the client hears about completion
	s.finish(q)
	s.emit(c, "executing", map[string]interface{}{"node": nil, "prompt_id": pid})
	s.emit(c, "execution_success", map[string]interface{}{"prompt_id": pid, "timestamp": time.Now().UnixMilli()})
}

// save stores the image a SaveImage node would write, with the prompt embedded
func (s *Server) save(q *Queued, id string, node graphapi.PromptNode) []map[string]string {
	prefix, _ := node.Inputs["filename_prefix"].(string)
	if prefix == "" {
		prefix = "ComfyUI"
	}
	promptJSON, _ := json.Marshal(q.Prompt.Nodes)

	s.mu.Lock()
	defer s.mu.Unlock()
	// a prefix like "looks/tryon" saves into the "looks" subfolder
	subfolder, base := path.Split(prefix)
	subfolder = strings.TrimSuffix(subfolder, "/")
	filename := fmt.Sprintf("%s_%05d_.png", base, len(s.files)+1)
	s.files[path.Join("output", subfolder, filename)] = PNGWithText(map[string]string{"prompt": string(promptJSON)})
	images := []map[string]string{{"filename": filename, "subfolder": subfolder, "type": "output"}}
	q.Outputs[id] = images
	return images
}

func (s *Server) finish(q *Queued) {
	s.mu.Lock()
	q.Done = true
	s.mu.Unlock()
}

func samplerID(p *graphapi.Prompt) string {
	for _, id := range p.NodeIDs() {
		if p.Nodes[id].ClassType == "KSampler" {
			return id
		}
	}
	ids := p.NodeIDs()
	return ids[len(ids)-1]
}

func containsString(slice []string, target string) bool {
	for _, item := range slice {
		if item == target {
			return true
		}
	}
	return false
}

// PNGWithText encodes a 1x1 PNG carrying the given tEXt chunks
func PNGWithText(text map[string]string) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 30, G: 60, B: 200, A: 255})
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	data := buf.Bytes()

	// IEND is the final 12 bytes
	iend := data[len(data)-12:]
	out := bytes.NewBuffer(append([]byte(nil), data[:len(data)-12]...))
	for k, v := range text {
		chunk := append([]byte("tEXt"), []byte(k)...)
		chunk = append(chunk, 0)
		chunk = append(chunk, []byte(v)...)
		_ = binary.Write(out, binary.BigEndian, uint32(len(chunk)-4))
		out.Write(chunk)
		_ = binary.Write(out, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	}
	out.Write(iend)
	return out.Bytes()
}
