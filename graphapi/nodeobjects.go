package graphapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// NodeObjects is the node registry published by a ComfyUI server at /object_info
type NodeObjects struct {
	Objects map[string]*NodeObject
}

// NodeObject represents the metadata that describes how to generate an instance of a node for a prompt.
type NodeObject struct {
	Input               *NodeObjectInput    `json:"input"`
	Output              *[]string           `json:"output"` // output type
	OutputIsList        *[]bool             `json:"output_is_list"`
	OutputName          *[]string           `json:"output_name"`
	Name                string              `json:"name"`
	DisplayName         string              `json:"display_name"`
	Description         string              `json:"description"`
	Category            string              `json:"category"`
	OutputNode          bool                `json:"output_node"`
	InputProperties     []Property          `json:"-"`
	InputPropertiesByID map[string]Property `json:"-"`
}

// GetSettableProperties returns a slice of Properties that are settable.
func (n *NodeObject) GetSettableProperties() []Property {
	retv := make([]Property, 0)
	for _, p := range n.InputProperties {
		if p.Settable() {
			retv = append(retv, p)
		}
	}
	return retv
}

// GetPropertyWithName returns the input property with the given name, or nil
func (n *NodeObject) GetPropertyWithName(name string) Property {
	if p, ok := n.InputPropertiesByID[name]; ok {
		return p
	}
	return nil
}

type NodeObjectInput struct {
	Required        map[string]*interface{} `json:"required"`
	Optional        map[string]*interface{} `json:"optional,omitempty"`
	OrderedRequired []string                `json:"-"`
	OrderedOptional []string                `json:"-"`
}

func (noi *NodeObjectInput) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return err
	} // consume opening brace

	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return err
		}

		key := t.(string)
		switch key {
		case "required", "optional":
			if _, err := dec.Token(); err != nil { // consume opening brace of nested object
				return err
			}

			currentMap := make(map[string]*interface{})
			currentOrder := make([]string, 0)
			for dec.More() {
				entryKeyToken, err := dec.Token()
				if err != nil {
					return err
				}

				entryKey := entryKeyToken.(string)
				currentOrder = append(currentOrder, entryKey)

				rawValue := &json.RawMessage{}
				if err := dec.Decode(rawValue); err != nil {
					return err
				}

				var i interface{}
				if err := json.Unmarshal(*rawValue, &i); err != nil {
					return err
				}

				currentMap[entryKey] = &i
			}

			if _, err := dec.Token(); err != nil { // consume closing brace of nested object
				return err
			}

			if key == "required" {
				noi.Required = currentMap
				noi.OrderedRequired = currentOrder
			} else {
				noi.Optional = currentMap
				noi.OrderedOptional = currentOrder
			}
		default:
			if err := dec.Decode(new(interface{})); err != nil { // consume and ignore non-expected field
				return err
			}
		}
	}

	if _, err := dec.Token(); err != nil { // consume closing brace
		return err
	}

	return nil
}

var control_after_generate_text string = `
[
	[
		"fixed",
		"increment",
		"decrement",
		"randomize"
	]
]
`

// NewNodeObjectsFromJSON decodes an /object_info response and builds the input properties
func NewNodeObjectsFromJSON(data []byte) (*NodeObjects, error) {
	result := &NodeObjects{}
	if err := json.Unmarshal(data, &result.Objects); err != nil {
		return nil, err
	}
	result.PopulateInputProperties()
	return result, nil
}

func (n *NodeObjects) PopulateInputProperties() {
	var cdata []interface{}
	_ = json.Unmarshal([]byte(control_after_generate_text), &cdata)
	var car interface{} = cdata

	for name, o := range n.Objects {
		o.InputPropertiesByID = make(map[string]Property)
		o.InputProperties = make([]Property, 0)
		if o.Name == "" {
			o.Name = name
		}
		if o.Input == nil {
			continue
		}
		index := 0

		add := func(k string, p *interface{}, optional bool) {
			nprop := NewPropertyFromInput(k, optional, p, index)
			index++
			if nprop == nil {
				slog.Debug("Cannot create property", "property", k, "object", o.Name)
				return
			}
			o.InputProperties = append(o.InputProperties, nprop)
			o.InputPropertiesByID[k] = nprop

			// the frontend adds a control widget after seed and noise_seed ints
			if (nprop.Name() == "seed" || nprop.Name() == "noise_seed") && nprop.TypeString() == "INT" {
				ns_prop := NewPropertyFromInput("control_after_generate", optional, &car, index)
				index++
				ns_prop.SetSerializable(false)
				o.InputProperties = append(o.InputProperties, ns_prop)
				o.InputPropertiesByID["control_after_generate"] = ns_prop
			}
		}

		for _, k := range o.Input.OrderedRequired {
			add(k, o.Input.Required[k], false)
		}
		for _, k := range o.Input.OrderedOptional {
			add(k, o.Input.Optional[k], true)
		}
	}
}

func (n *NodeObjects) GetNodeObjectByName(name string) *NodeObject {
	if n == nil {
		return nil
	}
	val, ok := n.Objects[name]
	if ok {
		return val
	}
	return nil
}

// HasNode reports whether the registry can instantiate the given class type
func (n *NodeObjects) HasNode(name string) bool {
	return n.GetNodeObjectByName(name) != nil
}

// Missing returns the class types the prompt uses that the registry does not provide
func (n *NodeObjects) Missing(classTypes []string) []string {
	retv := make([]string, 0)
	for _, ct := range classTypes {
		if !n.HasNode(ct) && !containsString(retv, ct) {
			retv = append(retv, ct)
		}
	}
	return retv
}

// ComboValues returns the choices of a COMBO input, such as the model files a loader can see
func (n *NodeObjects) ComboValues(classType string, input string) ([]string, bool) {
	o := n.GetNodeObjectByName(classType)
	if o == nil {
		return nil, false
	}
	p := o.GetPropertyWithName(input)
	if p == nil {
		return nil, false
	}
	combo, ok := p.ToComboProperty()
	if !ok {
		return nil, false
	}
	return combo.Values, true
}

// AppendComboValue adds value to a COMBO input's choices
func (n *NodeObjects) AppendComboValue(classType string, input string, value string) error {
	o := n.GetNodeObjectByName(classType)
	if o == nil {
		return fmt.Errorf("unknown node type %s", classType)
	}
	p := o.GetPropertyWithName(input)
	if p == nil {
		return fmt.Errorf("node type %s has no input %s", classType, input)
	}
	combo, ok := p.ToComboProperty()
	if !ok {
		return fmt.Errorf("input %s of %s is not a combo", input, classType)
	}
	combo.Append(value)
	return nil
}

// Validate checks every node of the prompt against the registry and coerces literal
// input values in place.  All problems found are returned together.
func (n *NodeObjects) Validate(p *Prompt) error {
	errs := make([]error, 0)
	for _, id := range p.NodeIDs() {
		node := p.Nodes[id]
		o := n.GetNodeObjectByName(node.ClassType)
		if o == nil {
			errs = append(errs, fmt.Errorf("node %s: unknown node type %s", id, node.ClassType))
			continue
		}

		for name, v := range node.Inputs {
			prop := o.GetPropertyWithName(name)
			if prop == nil {
				// custom nodes may accept inputs they do not advertise
				slog.Debug("Input not advertised by node", "node_id", id, "node_type", node.ClassType, "input", name)
				continue
			}
			if _, ok := AsNodeOutput(v); ok {
				continue
			}
			cv, err := prop.Coerce(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("node %s (%s): %w", id, node.Title(), err))
				continue
			}
			node.Inputs[name] = cv
		}

		for _, prop := range o.InputProperties {
			if prop.Optional() || !prop.Serializable() {
				continue
			}
			if _, ok := node.Inputs[prop.Name()]; !ok {
				errs = append(errs, fmt.Errorf("node %s (%s): missing required input %s", id, node.Title(), prop.Name()))
			}
		}
	}
	return errors.Join(errs...)
}

func containsString(slice []string, target string) bool {
	for _, item := range slice {
		if item == target {
			return true
		}
	}
	return false
}
