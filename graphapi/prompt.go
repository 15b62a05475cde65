package graphapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Prompt is the data that is enqueued to an instance of ComfyUI
type Prompt struct {
	ClientID  string                `json:"client_id"`
	Nodes     map[string]PromptNode `json:"prompt"`
	ExtraData *PromptExtraData      `json:"extra_data,omitempty"`
}

type PromptNode struct {
	// Inputs can be one of:
	//	float64, int64, uint64, bool
	//	string
	//	NodeOutput, serialized as ["<node id>", <slot index>]
	Inputs    map[string]interface{} `json:"inputs"`
	ClassType string                 `json:"class_type"`
	Meta      *PromptNodeMeta        `json:"_meta,omitempty"`
}

type PromptNodeMeta struct {
	Title string `json:"title"`
}

// Title returns the node's display title, or its class type when it has none
func (n PromptNode) Title() string {
	if n.Meta != nil && n.Meta.Title != "" {
		return n.Meta.Title
	}
	return n.ClassType
}

type PromptExtraData struct {
	PngInfo map[string]interface{} `json:"extra_pnginfo,omitempty"`
}

// NodeIDs returns the ids of the prompt's nodes in numeric order where possible
func (p *Prompt) NodeIDs() []string {
	ids := make([]string, 0, len(p.Nodes))
	for id := range p.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, aerr := strconv.Atoi(ids[i])
		b, berr := strconv.Atoi(ids[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}

// GetNodeById returns the prompt node for the given id.  Compound ids of
// expanded nodes ("57:8") resolve to their owning node.
func (p *Prompt) GetNodeById(id string) (PromptNode, bool) {
	if n, ok := p.Nodes[id]; ok {
		return n, true
	}
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			n, ok := p.Nodes[id[:i]]
			return n, ok
		}
	}
	return PromptNode{}, false
}

// ClassTypes returns the distinct node class types used by the prompt
func (p *Prompt) ClassTypes() []string {
	seen := make(map[string]bool)
	retv := make([]string, 0)
	for _, id := range p.NodeIDs() {
		ct := p.Nodes[id].ClassType
		if !seen[ct] {
			seen[ct] = true
			retv = append(retv, ct)
		}
	}
	return retv
}

// NodeOutput references the output slot of another node in the prompt
type NodeOutput struct {
	NodeID string
	Slot   int
}

func (o NodeOutput) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{o.NodeID, o.Slot})
}

func (o *NodeOutput) UnmarshalJSON(b []byte) error {
	var tmp []interface{}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	if len(tmp) != 2 {
		return errors.New("wrong number of fields in node output link")
	}
	switch id := tmp[0].(type) {
	case string:
		o.NodeID = id
	case float64:
		o.NodeID = strconv.Itoa(int(id))
	default:
		return fmt.Errorf("invalid node id %v", tmp[0])
	}
	slot, ok := tmp[1].(float64)
	if !ok {
		return fmt.Errorf("invalid slot index %v", tmp[1])
	}
	o.Slot = int(slot)
	return nil
}

// AsNodeOutput reports whether an input value is a link to another node, either
// as a NodeOutput or in its decoded JSON form
func AsNodeOutput(v interface{}) (NodeOutput, bool) {
	switch val := v.(type) {
	case NodeOutput:
		return val, true
	case *NodeOutput:
		if val == nil {
			return NodeOutput{}, false
		}
		return *val, true
	case []interface{}:
		if len(val) != 2 {
			return NodeOutput{}, false
		}
		data, err := json.Marshal(val)
		if err != nil {
			return NodeOutput{}, false
		}
		o := NodeOutput{}
		if err := json.Unmarshal(data, &o); err != nil {
			return NodeOutput{}, false
		}
		return o, true
	}
	return NodeOutput{}, false
}

// ValueAtIndex returns the value at the given index of a sequence or mapping.
// Sequences are indexed directly.  Mappings are looked up by the decimal form of
// the index, falling back to the index-th entry of their "result" sequence.
func ValueAtIndex(obj interface{}, index int) (interface{}, error) {
	switch val := obj.(type) {
	case []interface{}:
		if index < 0 || index >= len(val) {
			return nil, fmt.Errorf("index %d out of range for sequence of length %d", index, len(val))
		}
		return val[index], nil
	case map[string]interface{}:
		if v, ok := val[strconv.Itoa(index)]; ok {
			return v, nil
		}
		result, ok := val["result"]
		if !ok {
			return nil, fmt.Errorf("mapping has no key %d and no result entry", index)
		}
		return ValueAtIndex(result, index)
	}
	return nil, fmt.Errorf("cannot index value of type %T", obj)
}

// PromptNodesFromValue converts a decoded JSON mapping of node id to node into prompt nodes
func PromptNodesFromValue(v interface{}) (map[string]PromptNode, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a mapping of nodes, got %T", v)
	}
	retv := make(map[string]PromptNode, len(m))
	for id, raw := range m {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("node %s: expected a mapping, got %T", id, raw)
		}
		n := PromptNode{Inputs: make(map[string]interface{})}
		n.ClassType, _ = obj["class_type"].(string)
		if n.ClassType == "" {
			return nil, fmt.Errorf("node %s has no class_type", id)
		}
		if inputs, ok := obj["inputs"].(map[string]interface{}); ok {
			n.Inputs = inputs
		}
		if meta, ok := obj["_meta"].(map[string]interface{}); ok {
			title, _ := meta["title"].(string)
			n.Meta = &PromptNodeMeta{Title: title}
		}
		retv[id] = n
	}
	return retv, nil
}
