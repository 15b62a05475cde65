package graphapi

import (
	"errors"
	"fmt"
)

// PromptBuilder assembles an API format prompt node by node
type PromptBuilder struct {
	nodes map[string]PromptNode
	order []string
	errs  []error
}

// NodeHandle is returned by PromptBuilder.Add and is used to reference the node's outputs
type NodeHandle struct {
	ID        string
	ClassType string
}

// Out returns a link to the node's output at slot
func (h *NodeHandle) Out(slot int) NodeOutput {
	return NodeOutput{NodeID: h.ID, Slot: slot}
}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{
		nodes: make(map[string]PromptNode),
		order: make([]string, 0),
	}
}

// Add places a node with the given id into the prompt.  Errors such as duplicate
// ids are deferred until Build.
func (b *PromptBuilder) Add(id string, classType string, title string, inputs map[string]interface{}) *NodeHandle {
	if _, ok := b.nodes[id]; ok {
		b.errs = append(b.errs, fmt.Errorf("duplicate node id %s", id))
	}
	if inputs == nil {
		inputs = make(map[string]interface{})
	}
	n := PromptNode{
		ClassType: classType,
		Inputs:    inputs,
	}
	if title != "" {
		n.Meta = &PromptNodeMeta{Title: title}
	}
	b.nodes[id] = n
	b.order = append(b.order, id)
	return &NodeHandle{ID: id, ClassType: classType}
}

// Order returns node ids in the order they were added
func (b *PromptBuilder) Order() []string {
	retv := make([]string, len(b.order))
	copy(retv, b.order)
	return retv
}

// Build checks that every link targets a node in the prompt and returns the prompt
func (b *PromptBuilder) Build(clientID string) (*Prompt, error) {
	errs := append([]error(nil), b.errs...)
	for _, id := range b.order {
		for name, v := range b.nodes[id].Inputs {
			if link, ok := AsNodeOutput(v); ok {
				if _, ok := b.nodes[link.NodeID]; !ok {
					errs = append(errs, fmt.Errorf("node %s input %s links to unknown node %s", id, name, link.NodeID))
				}
			}
		}
	}
	if len(errs) != 0 {
		return nil, errors.Join(errs...)
	}

	p := &Prompt{
		ClientID: clientID,
		Nodes:    make(map[string]PromptNode, len(b.nodes)),
	}
	for k, v := range b.nodes {
		p.Nodes[k] = v
	}
	return p, nil
}
