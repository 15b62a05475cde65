package graphapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
)

// Property is a node's input that can be a settable value
// Settable property types:
// "INT"			an integer, clamped to its range
// "FLOAT"			a float64, clamped to its range
// "STRING"			a single line, or multiline string
// "COMBO"			one of a given list of strings
// "BOOLEAN"		a labeled bool value
// "UNKNOWN"		everything else (only settable through links)
type Property interface {
	TypeString() string
	Optional() bool
	Settable() bool
	Name() string
	Serializable() bool
	SetSerializable(bool)
	Index() int

	// Coerce converts v to the property's native type, constraining it when
	// needed.  Links to other nodes are returned unchanged.
	Coerce(v interface{}) (interface{}, error)

	ToIntProperty() (*IntProperty, bool)
	ToFloatProperty() (*FloatProperty, bool)
	ToBoolProperty() (*BoolProperty, bool)
	ToStringProperty() (*StringProperty, bool)
	ToComboProperty() (*ComboProperty, bool)
	ToUnknownProperty() (*UnknownProperty, bool)
	valueFromString(value string) (interface{}, error)
}

type BaseProperty struct {
	parent       Property
	name         string
	optional     bool
	serializable bool
	index        int
}

func (b *BaseProperty) Serializable() bool {
	return b.serializable
}

func (b *BaseProperty) SetSerializable(val bool) {
	b.serializable = val
}

func (b *BaseProperty) Index() int {
	return b.index
}

// Coerce calls the protocol implementation for valueFromString to get
// the actual value that will be set.  valueFromString should perform
// conversion to it's native type and constrain it when needed
func (b *BaseProperty) Coerce(v interface{}) (interface{}, error) {
	if _, ok := AsNodeOutput(v); ok {
		return v, nil
	}
	vs := fmt.Sprintf("%v", v)
	switch n := v.(type) {
	case float64:
		// avoid exponent notation for integral floats decoded from JSON
		if n == math.Trunc(n) && math.Abs(n) < 1e21 {
			vs = strconv.FormatFloat(n, 'f', -1, 64)
		}
	case json.Number:
		vs = n.String()
	}
	val, err := b.parent.valueFromString(vs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.name, err)
	}
	return val, nil
}

func (b *BaseProperty) ToIntProperty() (*IntProperty, bool) {
	if prop, ok := b.parent.(*IntProperty); ok {
		return prop, true
	}
	return nil, false
}
func (b *BaseProperty) ToFloatProperty() (*FloatProperty, bool) {
	if prop, ok := b.parent.(*FloatProperty); ok {
		return prop, true
	}
	return nil, false
}
func (b *BaseProperty) ToBoolProperty() (*BoolProperty, bool) {
	if prop, ok := b.parent.(*BoolProperty); ok {
		return prop, true
	}
	return nil, false
}
func (b *BaseProperty) ToStringProperty() (*StringProperty, bool) {
	if prop, ok := b.parent.(*StringProperty); ok {
		return prop, true
	}
	return nil, false
}
func (b *BaseProperty) ToComboProperty() (*ComboProperty, bool) {
	if prop, ok := b.parent.(*ComboProperty); ok {
		return prop, true
	}
	return nil, false
}
func (b *BaseProperty) ToUnknownProperty() (*UnknownProperty, bool) {
	if prop, ok := b.parent.(*UnknownProperty); ok {
		return prop, true
	}
	return nil, false
}

type BoolProperty struct {
	BaseProperty
	Default  bool
	LabelOn  string
	LabelOff string
}

func newBoolProperty(input_name string, optional bool, data interface{}, index int) Property {
	c := &BoolProperty{
		BaseProperty: BaseProperty{name: input_name, optional: optional, serializable: true, index: index},
		Default:      false,
	}
	c.parent = c

	if d, ok := data.(map[string]interface{}); ok {
		if val, ok := d["label_on"].(string); ok {
			c.LabelOn = val
		}
		if val, ok := d["label_off"].(string); ok {
			c.LabelOff = val
		}
		if val, ok := d["default"].(bool); ok {
			c.Default = val
		}
	}
	return c
}
func (p *BoolProperty) TypeString() string {
	return "BOOLEAN"
}
func (p *BoolProperty) Optional() bool {
	return p.optional
}
func (p *BoolProperty) Settable() bool {
	return true
}
func (p *BoolProperty) Name() string {
	return p.name
}
func (p *BoolProperty) valueFromString(value string) (interface{}, error) {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return nil, fmt.Errorf("not a boolean: %q", value)
	}
	return v, nil
}

// IntProperty ranges are kept as float64 because ComfyUI publishes seed limits
// up to 0xffffffffffffffff, which does not fit an int64.
type IntProperty struct {
	BaseProperty
	Default  float64
	Min      float64 // optional
	Max      float64 // optional
	Step     float64 // optional
	hasStep  bool
	hasRange bool
}

func newIntProperty(input_name string, optional bool, data interface{}, index int) Property {
	c := &IntProperty{
		BaseProperty: BaseProperty{name: input_name, optional: optional, serializable: true, index: index},
		Min:          math.MinInt64,
		Max:          math.MaxUint64,
	}
	c.parent = c

	if d, ok := data.(map[string]interface{}); ok {
		if val, ok := d["default"].(float64); ok {
			c.Default = val
		}
		// min?
		if val, ok := d["min"].(float64); ok {
			c.Min = val
			c.hasRange = true
		}
		// max?
		if val, ok := d["max"].(float64); ok {
			c.Max = val
			c.hasRange = true
		}
		// step?
		if val, ok := d["step"].(float64); ok {
			c.Step = val
			c.hasStep = true
		}
	}
	return c
}
func (p *IntProperty) TypeString() string {
	return "INT"
}
func (p *IntProperty) Optional() bool {
	return p.optional
}
func (p *IntProperty) HasStep() bool {
	return p.hasStep
}
func (p *IntProperty) HasRange() bool {
	return p.hasRange
}
func (p *IntProperty) Settable() bool {
	return true
}
func (p *IntProperty) Name() string {
	return p.name
}
func (p *IntProperty) valueFromString(value string) (interface{}, error) {
	if v, err := strconv.ParseInt(value, 10, 64); err == nil {
		if p.hasRange {
			if float64(v) < p.Min {
				return intFromFloat(p.Min), nil
			}
			if float64(v) > p.Max {
				return intFromFloat(p.Max), nil
			}
		}
		return v, nil
	}
	// seeds above MaxInt64
	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("not an integer: %q", value)
	}
	if p.hasRange && float64(v) > p.Max {
		return intFromFloat(p.Max), nil
	}
	return v, nil
}

func intFromFloat(f float64) interface{} {
	if f >= math.MaxInt64 {
		if f >= math.MaxUint64 {
			return uint64(math.MaxUint64)
		}
		return uint64(f)
	}
	return int64(f)
}

type FloatProperty struct {
	BaseProperty
	Default  float64
	Min      float64
	Max      float64
	Step     float64
	hasStep  bool
	hasRange bool
}

func newFloatProperty(input_name string, optional bool, data interface{}, index int) Property {
	c := &FloatProperty{
		BaseProperty: BaseProperty{name: input_name, optional: optional, serializable: true, index: index},
		Min:          -math.MaxFloat64,
		Max:          math.MaxFloat64,
	}
	c.parent = c

	if d, ok := data.(map[string]interface{}); ok {
		if val, ok := d["default"].(float64); ok {
			c.Default = val
		}
		// min?
		if val, ok := d["min"].(float64); ok {
			c.Min = val
			c.hasRange = true
		}
		// max?
		if val, ok := d["max"].(float64); ok {
			c.Max = val
			c.hasRange = true
		}
		// step?
		if val, ok := d["step"].(float64); ok {
			c.Step = val
			c.hasStep = true
		}
	}
	return c
}
func (p *FloatProperty) TypeString() string {
	return "FLOAT"
}
func (p *FloatProperty) Optional() bool {
	return p.optional
}
func (p *FloatProperty) HasStep() bool {
	return p.hasStep
}
func (p *FloatProperty) HasRange() bool {
	return p.hasRange
}
func (p *FloatProperty) Settable() bool {
	return true
}
func (p *FloatProperty) Name() string {
	return p.name
}
func (p *FloatProperty) valueFromString(value string) (interface{}, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("not a number: %q", value)
	}
	if p.hasRange {
		v = math.Min(v, p.Max)
		v = math.Max(v, p.Min)
	}
	return v, nil
}

type StringProperty struct {
	BaseProperty
	Default   string
	Multiline bool
}

func newStringProperty(input_name string, optional bool, data interface{}, index int) Property {
	c := &StringProperty{
		BaseProperty: BaseProperty{name: input_name, optional: optional, serializable: true, index: index},
	}
	c.parent = c

	if d, ok := data.(map[string]interface{}); ok {
		// default?
		if val, ok := d["default"].(string); ok {
			c.Default = val
		}
		// multiline?
		if val, ok := d["multiline"].(bool); ok {
			c.Multiline = val
		}
	}
	return c
}
func (p *StringProperty) TypeString() string {
	return "STRING"
}
func (p *StringProperty) Optional() bool {
	return p.optional
}
func (p *StringProperty) Settable() bool {
	return true
}
func (p *StringProperty) Name() string {
	return p.name
}
func (p *StringProperty) valueFromString(value string) (interface{}, error) {
	return value, nil
}

type ComboProperty struct {
	BaseProperty
	Values []string
}

func newComboProperty(input_name string, optional bool, input []interface{}, index int) Property {
	c := &ComboProperty{
		BaseProperty: BaseProperty{name: input_name, optional: optional, serializable: true, index: index},
	}
	c.parent = c

	c.Values = make([]string, 0)
	for _, v := range input {
		if s, ok := v.(string); ok {
			c.Values = append(c.Values, s)
		}
	}
	return c
}
func (p *ComboProperty) TypeString() string {
	return "COMBO"
}
func (p *ComboProperty) Optional() bool {
	return p.optional
}
func (p *ComboProperty) Settable() bool {
	return true
}
func (p *ComboProperty) Name() string {
	return p.name
}
func (p *ComboProperty) valueFromString(value string) (interface{}, error) {
	// ensure we have this string in our values
	for _, v := range p.Values {
		if value == v {
			return value, nil
		}
	}
	return nil, fmt.Errorf("%q is not one of the %d available values", value, len(p.Values))
}

// Has reports whether value is one of the combo's choices
func (p *ComboProperty) Has(value string) bool {
	_, err := p.valueFromString(value)
	return err == nil
}

// Append will add the new value to the combo if it's not already available.
// Used after uploading a file the server did not list when the registry was fetched.
func (p *ComboProperty) Append(newValue string) {
	if !p.Has(newValue) {
		p.Values = append(p.Values, newValue)
	}
}

type UnknownProperty struct {
	BaseProperty
	TypeName string
}

func newUnknownProperty(input_name string, optional bool, typename string, index int) Property {
	c := &UnknownProperty{
		BaseProperty: BaseProperty{name: input_name, optional: optional, serializable: true, index: index},
		TypeName:     typename,
	}
	c.parent = c
	return c
}
func (p *UnknownProperty) TypeString() string {
	return p.TypeName
}
func (p *UnknownProperty) Optional() bool {
	return p.optional
}
func (p *UnknownProperty) Settable() bool {
	return false
}
func (p *UnknownProperty) Name() string {
	return p.name
}
func (p *UnknownProperty) valueFromString(value string) (interface{}, error) {
	return nil, fmt.Errorf("%s inputs must be linked to another node", p.TypeName)
}

func NewPropertyFromInput(input_name string, optional bool, input *interface{}, index int) Property {
	if input == nil {
		return nil
	}
	// Attempt to assert the interface as a slice of interfaces
	slice, ok := (*input).([]interface{})
	if !ok || len(slice) == 0 {
		return nil
	}

	var data interface{}
	if len(slice) > 1 {
		data = slice[1]
	}

	// the first item is either an array of strings (a combo), or the property type
	if ptype, ok := slice[0].([]interface{}); ok {
		return newComboProperty(input_name, optional, ptype, index)
	}

	stype, ok := slice[0].(string)
	if !ok {
		slog.Warn("Unexpected input definition", "input", input_name)
		return nil
	}
	switch stype {
	case "STRING":
		return newStringProperty(input_name, optional, data, index)
	case "INT":
		return newIntProperty(input_name, optional, data, index)
	case "FLOAT":
		return newFloatProperty(input_name, optional, data, index)
	case "BOOLEAN":
		return newBoolProperty(input_name, optional, data, index)
	case "COMBO":
		// newer servers publish combos as ["COMBO", {"options": [...]}]
		if d, ok := data.(map[string]interface{}); ok {
			if opts, ok := d["options"].([]interface{}); ok {
				return newComboProperty(input_name, optional, opts, index)
			}
		}
		return newComboProperty(input_name, optional, nil, index)
	default:
		return newUnknownProperty(input_name, optional, stype, index)
	}
}
