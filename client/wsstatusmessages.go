package client

import (
	"encoding/json"
	"log/slog"
)

type WSStatusMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (sm *WSStatusMessage) UnmarshalJSON(b []byte) error {
	// Unmarshal into an anonymous type equivalent to StatusMessage
	// to avoid infinite recursion
	var temp struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	sm.Type = temp.Type

	// Determine the type of Data and unmarshal it accordingly
	switch sm.Type {
	case "status":
		sm.Data = &WSMessageDataStatus{}
	case "execution_start":
		sm.Data = &WSMessageDataExecutionStart{}
	case "execution_cached":
		sm.Data = &WSMessageDataExecutionCached{}
	case "executing":
		sm.Data = &WSMessageDataExecuting{}
	case "progress":
		sm.Data = &WSMessageDataProgress{}
	case "executed":
		// this is a special case because the data type is not always the same
		// so we need to unmarshal it manually
		sm.Data = &WSMessageDataExecuted{}
	case "execution_success":
		sm.Data = &WSMessageDataExecutionSuccess{}
	case "execution_interrupted":
		sm.Data = &WSMessageExecutionInterrupted{}
	case "execution_error":
		sm.Data = &WSMessageExecutionError{}
	default:
		// monitors and custom nodes send their own types
		sm.Data = nil
	}

	if sm.Data != nil && len(temp.Data) != 0 {
		// Unmarshal the data into the selected type
		if err := json.Unmarshal(temp.Data, sm.Data); err != nil {
			return err
		}
	}

	return nil
}

// PromptID returns the prompt id carried by the message, or "" if it has none
func (sm *WSStatusMessage) PromptID() string {
	switch d := sm.Data.(type) {
	case *WSMessageDataExecutionStart:
		return d.PromptID
	case *WSMessageDataExecutionCached:
		return d.PromptID
	case *WSMessageDataExecuting:
		return d.PromptID
	case *WSMessageDataProgress:
		return d.PromptID
	case *WSMessageDataExecuted:
		return d.PromptID
	case *WSMessageDataExecutionSuccess:
		return d.PromptID
	case *WSMessageExecutionInterrupted:
		return d.PromptID
	case *WSMessageExecutionError:
		return d.PromptID
	}
	return ""
}

type WSMessageDataStatus struct {
	Status struct {
		ExecInfo struct {
			QueueRemaining int `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
	SID string `json:"sid,omitempty"`
}

/*
{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 1}}}}
*/

type WSMessageDataExecutionStart struct {
	PromptID string `json:"prompt_id"`
}

/*
{"type": "execution_start", "data": {"prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
*/

type WSMessageDataExecutionCached struct {
	Nodes    []string `json:"nodes"`
	PromptID string   `json:"prompt_id"`
}

/*
{"type": "execution_cached", "data": {"nodes": [], "prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
*/

// WSMessageDataExecuting carries the id of the node being executed.  Node ids
// are strings and may be compound ("57:8") for nodes expanded by the server.
type WSMessageDataExecuting struct {
	Node        *string `json:"node"`
	DisplayNode *string `json:"display_node,omitempty"`
	PromptID    string  `json:"prompt_id"`
}

/*
{"type": "executing", "data": {"node": "12", "prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
{"type": "executing", "data": {"node": null, "prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
*/

type WSMessageDataProgress struct {
	Value    int    `json:"value"`
	Max      int    `json:"max"`
	Node     string `json:"node,omitempty"`
	PromptID string `json:"prompt_id,omitempty"`
}

/*
{"type": "progress", "data": {"value": 1, "max": 35, "prompt_id": "...", "node": "11"}}
*/

type WSMessageDataExecuted struct {
	Node     string                   `json:"node"`
	Output   map[string]*[]DataOutput `json:"output"`
	PromptID string                   `json:"prompt_id"`
}

func (mde *WSMessageDataExecuted) UnmarshalJSON(b []byte) error {
	var temp struct {
		Node      string                 `json:"node"`
		OutputRaw map[string]interface{} `json:"output"`
		PromptID  string                 `json:"prompt_id"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	// iterrate over Outputraw and see if it can be cast to a slice of interface{}
	mde.Output = make(map[string]*[]DataOutput)
	for k, v := range temp.OutputRaw {
		val, ok := v.([]interface{})
		if !ok {
			continue
		}
		outputs := make([]DataOutput, 0, len(val))
		for _, i := range val {
			switch out := i.(type) {
			case map[string]interface{}:
				// ensure the output map has the required fields
				filename, ok := out["filename"].(string)
				if !ok {
					slog.Warn("executed output entry has no filename", "output", k)
					continue
				}
				filetype, ok := out["type"].(string)
				if !ok {
					slog.Warn("executed output entry has no type", "output", k)
					continue
				}
				// we can ignore the subfolder if it's absent
				subfolder, _ := out["subfolder"].(string)
				outputs = append(outputs, DataOutput{
					Filename:  filename,
					Subfolder: subfolder,
					Type:      filetype,
				})
			case string:
				// handle raw text output
				outputs = append(outputs, DataOutput{
					Type: "text",
					Text: out,
				})
			default:
				data, _ := json.Marshal(i)
				outputs = append(outputs, DataOutput{
					Type: "unknown",
					Text: string(data),
				})
			}
		}
		mde.Output[k] = &outputs
	}

	mde.PromptID = temp.PromptID
	mde.Node = temp.Node
	return nil
}

/*
{"type": "executed", "data": {"node": "13", "output": {"images": [{"filename": "tryon_00046_.png", "subfolder": "", "type": "output"}]}, "prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
*/

type WSMessageDataExecutionSuccess struct {
	PromptID  string `json:"prompt_id"`
	Timestamp int64  `json:"timestamp"`
}

/*
{"type": "execution_success", "data": {"prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902", "timestamp": 1725569000000}}
*/

type WSMessageExecutionInterrupted struct {
	PromptID string   `json:"prompt_id"`
	Node     string   `json:"node_id"`
	NodeType string   `json:"node_type"`
	Executed []string `json:"executed"`
}

/*
{"type": "execution_interrupted", "data": {"prompt_id": "dc7093d7-980a-4fe6-bf0c-f6fef932c74b", "node_id": "11", "node_type": "KSampler", "executed": ["1", "2", "5"]}}
*/

type WSMessageExecutionError struct {
	PromptID         string                 `json:"prompt_id"`
	Node             string                 `json:"node_id"`
	NodeType         string                 `json:"node_type"`
	Executed         []string               `json:"executed"`
	ExceptionMessage string                 `json:"exception_message"`
	ExceptionType    string                 `json:"exception_type"`
	Traceback        []string               `json:"traceback"`
	CurrentInputs    map[string]interface{} `json:"current_inputs"`
	CurrentOutputs   map[string]interface{} `json:"current_outputs"`
}
