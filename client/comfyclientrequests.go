package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"

	"github.com/richinsley/comfytryon/graphapi"
)

/*
@routes.get("/embeddings")
@routes.get("/extensions")
@routes.get("/view")
@routes.get("/system_stats")
@routes.get("/prompt")
@routes.get("/object_info")
@routes.get("/history")
@routes.get("/history/{prompt_id}")

@routes.post("/prompt")
@routes.post("/queue")
@routes.post("/interrupt")
@routes.post("/history")
@routes.post("/upload/image")
*/

// get performs a GET against the server and returns the response body
func (c *ComfyClient) get(path string) ([]byte, error) {
	resp, err := c.httpclient.Get(c.baseURL() + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return body, nil
}

// postJSON posts data to the server and returns the status code with the response body
func (c *ComfyClient) postJSON(path string, data []byte) (int, []byte, error) {
	resp, err := c.httpclient.Post(c.baseURL()+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func (c *ComfyClient) GetSystemStats() (*SystemStats, error) {
	body, err := c.get("/system_stats")
	if err != nil {
		return nil, err
	}

	retv := &SystemStats{}
	err = json.Unmarshal(body, &retv)
	if err != nil {
		return nil, err
	}

	return retv, nil
}

func (c *ComfyClient) GetPromptHistoryByIndex() ([]PromptHistoryItem, error) {
	history, err := c.GetPromptHistoryByID()
	if err != nil {
		return nil, err
	}

	retv := make([]PromptHistoryItem, 0, len(history))
	// ComfyUI does not recalculate the indicies of prompt history items,
	// so the indecies may not always be ordered 0..n
	// We'll create a slice out of the map items, and then sort them
	for _, h := range history {
		retv = append(retv, h)
	}

	sort.Slice(retv, func(i, j int) bool {
		return retv[i].Index < retv[j].Index
	})

	return retv, nil
}

func (c *ComfyClient) GetPromptHistoryByID() (map[string]PromptHistoryItem, error) {
	body, err := c.get("/history")
	if err != nil {
		return nil, err
	}
	return parsePromptHistory(body)
}

// GetPromptHistoryItem returns the history of a single prompt
func (c *ComfyClient) GetPromptHistoryItem(promptID string) (*PromptHistoryItem, error) {
	body, err := c.get("/history/" + url.PathEscape(promptID))
	if err != nil {
		return nil, err
	}
	history, err := parsePromptHistory(body)
	if err != nil {
		return nil, err
	}
	item, ok := history[promptID]
	if !ok {
		return nil, fmt.Errorf("prompt %s not found in history", promptID)
	}
	return &item, nil
}

func parsePromptHistory(body []byte) (map[string]PromptHistoryItem, error) {
	// we need to re-arrange the data into something more coherent
	type internalOutputs struct {
		Images *[]DataOutput `json:"images"`
	}
	type internalPromptHistoryItem struct {
		// The prompt is stored as an array layed out like this:
		// [
		// 	[0] index 		int,
		// 	[1] promptID 	string,
		// 	[2] prompt 		map[string]graphapi.PromptNode,
		// 	[3] extra_data 	graphapi.PromptExtraData,
		//  [4] outputs     []string 						// array of nodeIDs that have outputs
		// ]
		Prompt  []interface{}              `json:"prompt"`
		Outputs map[string]internalOutputs `json:"outputs"`
	}

	// keep seeds above 2^53 exact
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	history := make(map[string]internalPromptHistoryItem)
	if err := dec.Decode(&history); err != nil {
		return nil, err
	}

	ret := make(map[string]PromptHistoryItem)
	for k, ph := range history {
		item := PromptHistoryItem{
			PromptID: k,
			Prompt:   &graphapi.Prompt{},
			Outputs:  make(map[string][]DataOutput),
		}

		index, err := graphapi.ValueAtIndex(ph.Prompt, 0)
		if err != nil {
			return nil, fmt.Errorf("malformed history entry %s: %w", k, err)
		}
		n, ok := index.(json.Number)
		if !ok {
			return nil, fmt.Errorf("malformed history entry %s: index is %T", k, index)
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("malformed history entry %s: %w", k, err)
		}
		item.Index = int(i)

		nodes, err := graphapi.ValueAtIndex(ph.Prompt, 2)
		if err != nil {
			return nil, fmt.Errorf("malformed history entry %s: %w", k, err)
		}
		if item.Prompt.Nodes, err = graphapi.PromptNodesFromValue(nodes); err != nil {
			return nil, fmt.Errorf("malformed history entry %s: %w", k, err)
		}

		// rebuild the images output map
		for nodeID, o := range ph.Outputs {
			if o.Images != nil {
				item.Outputs[nodeID] = *o.Images
			}
		}
		ret[k] = item
	}
	return ret, nil
}

// GetImage retrieves an output file from the server
func (c *ComfyClient) GetImage(image_data DataOutput) (*[]byte, error) {
	params := url.Values{}
	params.Add("filename", image_data.Filename)
	params.Add("subfolder", image_data.Subfolder)
	params.Add("type", image_data.Type)

	body, err := c.get("/view?" + params.Encode())
	if err != nil {
		return nil, err
	}
	return &body, nil
}

// GetEmbeddings retrieves the list of Embeddings models installed on the ComfyUI server.
func (c *ComfyClient) GetEmbeddings() ([]string, error) {
	body, err := c.get("/embeddings")
	if err != nil {
		return nil, err
	}

	retv := make([]string, 0)
	err = json.Unmarshal(body, &retv)
	if err != nil {
		return nil, err
	}

	return retv, nil
}

func (c *ComfyClient) GetQueueExecutionInfo() (*QueueExecInfo, error) {
	body, err := c.get("/prompt")
	if err != nil {
		return nil, err
	}

	queue_exec := &QueueExecInfo{}
	err = json.Unmarshal(body, &queue_exec)
	if err != nil {
		return nil, err
	}

	return queue_exec, nil
}

func (c *ComfyClient) GetObjectInfos() (*graphapi.NodeObjects, error) {
	body, err := c.get("/object_info")
	if err != nil {
		return nil, err
	}
	return graphapi.NewNodeObjectsFromJSON(body)
}

// QueuePrompt submits the prompt to the server's queue.  Messages about the prompt's
// execution are delivered to the returned QueueItem's Messages channel.
func (c *ComfyClient) QueuePrompt(prompt *graphapi.Prompt) (*QueueItem, error) {
	err := c.CheckConnection()
	if err != nil {
		return nil, err
	}

	prompt.ClientID = c.clientid
	data, err := json.Marshal(prompt)
	if err != nil {
		return nil, err
	}

	// prevent a race where the ws may provide messages about a queued item before
	// we add the item to our internal map
	c.mu.Lock()
	defer c.mu.Unlock()

	status, body, err := c.postJSON("/prompt", data)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		// {"error": {"type": "prompt_no_outputs",
		//				"message": "Prompt has no outputs",
		//				"details": "",
		//				"extra_info": {}
		//			  },
		// "node_errors": {}
		// }
		perror := &PromptErrorMessage{}
		if perr := json.Unmarshal(body, &perror); perr != nil || perror.Error.Message == "" {
			slog.Error("error unmarshalling prompt error", "body", string(body))
			return nil, fmt.Errorf("queue prompt: unexpected status %d", status)
		}
		return nil, errors.New(perror.String())
	}

	// create the queue item
	item := newQueueItem(c, prompt)
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, err
	}
	if item.PromptID == "" {
		return nil, errors.New("queue prompt: server returned no prompt id")
	}
	c.queueditems[item.PromptID] = item
	return item, nil
}

func (c *ComfyClient) Interrupt() error {
	status, _, err := c.postJSON("/interrupt", []byte("{}"))
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("interrupt: unexpected status %d", status)
	}
	return nil
}

// CancelPrompt removes a pending prompt from the server's queue, and interrupts it
// if it is the prompt currently executing
func (c *ComfyClient) CancelPrompt(promptID string) error {
	data, err := json.Marshal(map[string][]string{"delete": {promptID}})
	if err != nil {
		return err
	}
	if _, _, err := c.postJSON("/queue", data); err != nil {
		return err
	}

	c.mu.Lock()
	running := c.lastProcessedPromptID == promptID
	c.mu.Unlock()
	if running {
		return c.Interrupt()
	}
	return nil
}

func (c *ComfyClient) EraseHistory() error {
	_, _, err := c.postJSON("/history", []byte(`{"clear": true}`))
	return err
}

func (c *ComfyClient) EraseHistoryItem(promptID string) error {
	// delete post takes an array of IDs. We'll provide a single ID in a json array
	data, err := json.Marshal(map[string][]string{"delete": {promptID}})
	if err != nil {
		return err
	}
	_, _, err = c.postJSON("/history", data)
	return err
}
