package graphapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const objectInfo = `{
	"CheckpointLoaderSimple": {
		"input": {"required": {"ckpt_name": [["epicrealism_naturalSinRC1VAE.safetensors", "other.ckpt"]]}},
		"output": ["MODEL", "CLIP", "VAE"],
		"name": "CheckpointLoaderSimple",
		"display_name": "Load Checkpoint"
	},
	"KSampler": {
		"input": {
			"required": {
				"model": ["MODEL"],
				"seed": ["INT", {"default": 0, "min": 0, "max": 18446744073709551615}],
				"steps": ["INT", {"default": 20, "min": 1, "max": 10000}],
				"cfg": ["FLOAT", {"default": 8.0, "min": 0.0, "max": 100.0, "step": 0.1}],
				"sampler_name": ["COMBO", {"options": ["euler", "dpmpp_2m"]}],
				"scheduler": [["normal", "karras"]],
				"denoise": ["FLOAT", {"default": 1.0, "min": 0.0, "max": 1.0}]
			}
		},
		"output": ["LATENT"],
		"name": "KSampler"
	},
	"SaveImage": {
		"input": {
			"required": {"images": ["IMAGE"], "filename_prefix": ["STRING", {"default": "ComfyUI"}]},
			"hidden": {"prompt": "PROMPT"}
		},
		"output": [],
		"output_node": true
	}
}`

func loadObjects(t *testing.T) *NodeObjects {
	t.Helper()
	objs, err := NewNodeObjectsFromJSON([]byte(objectInfo))
	require.NoError(t, err)
	return objs
}

func TestPopulateInputProperties(t *testing.T) {
	objs := loadObjects(t)

	ks := objs.GetNodeObjectByName("KSampler")
	require.NotNil(t, ks)
	names := make([]string, 0)
	for _, p := range ks.InputProperties {
		names = append(names, p.Name())
	}
	require.Equal(t, []string{"model", "seed", "control_after_generate", "steps", "cfg", "sampler_name", "scheduler", "denoise"}, names)

	ctrl := ks.GetPropertyWithName("control_after_generate")
	require.False(t, ctrl.Serializable())

	sampler, ok := ks.GetPropertyWithName("sampler_name").ToComboProperty()
	require.True(t, ok)
	require.Equal(t, []string{"euler", "dpmpp_2m"}, sampler.Values)

	require.Equal(t, "MODEL", ks.GetPropertyWithName("model").TypeString())
	require.False(t, ks.GetPropertyWithName("model").Settable())

	// name falls back to the registry key
	require.Equal(t, "SaveImage", objs.GetNodeObjectByName("SaveImage").Name)
	require.Len(t, objs.GetNodeObjectByName("SaveImage").GetSettableProperties(), 1)
}

func TestPropertyCoerce(t *testing.T) {
	ks := loadObjects(t).GetNodeObjectByName("KSampler")

	v, err := ks.GetPropertyWithName("seed").Coerce(uint64(18446744073709551615))
	require.NoError(t, err)
	require.Equal(t, uint64(18446744073709551615), v)

	v, err = ks.GetPropertyWithName("seed").Coerce(int64(-5))
	require.NoError(t, err)
	require.Equal(t, int64(0), v)

	v, err = ks.GetPropertyWithName("steps").Coerce(float64(35))
	require.NoError(t, err)
	require.Equal(t, int64(35), v)

	v, err = ks.GetPropertyWithName("denoise").Coerce(1.5)
	require.NoError(t, err)
	require.Equal(t, 1.0, v)

	_, err = ks.GetPropertyWithName("steps").Coerce("many")
	require.Error(t, err)

	_, err = ks.GetPropertyWithName("scheduler").Coerce("exponential")
	require.Error(t, err)

	link := NodeOutput{NodeID: "1", Slot: 0}
	v, err = ks.GetPropertyWithName("model").Coerce(link)
	require.NoError(t, err)
	require.Equal(t, link, v)

	_, err = ks.GetPropertyWithName("model").Coerce("not a link")
	require.Error(t, err)
}

func TestBoolProperty(t *testing.T) {
	var def interface{} = []interface{}{"BOOLEAN", map[string]interface{}{"default": true, "label_on": "on", "label_off": "off"}}
	p := NewPropertyFromInput("flag", true, &def, 0)
	b, ok := p.ToBoolProperty()
	require.True(t, ok)
	require.True(t, b.Default)
	require.Equal(t, "on", b.LabelOn)
	require.Equal(t, "off", b.LabelOff)

	v, err := p.Coerce("false")
	require.NoError(t, err)
	require.Equal(t, false, v)
}

func TestMissingAndCombos(t *testing.T) {
	objs := loadObjects(t)
	require.Equal(t, []string{"ControlNetLoader"}, objs.Missing([]string{"KSampler", "ControlNetLoader", "ControlNetLoader"}))

	vals, ok := objs.ComboValues("CheckpointLoaderSimple", "ckpt_name")
	require.True(t, ok)
	require.Contains(t, vals, "other.ckpt")

	_, ok = objs.ComboValues("KSampler", "steps")
	require.False(t, ok)

	require.NoError(t, objs.AppendComboValue("CheckpointLoaderSimple", "ckpt_name", "new.safetensors"))
	require.NoError(t, objs.AppendComboValue("CheckpointLoaderSimple", "ckpt_name", "new.safetensors"))
	vals, _ = objs.ComboValues("CheckpointLoaderSimple", "ckpt_name")
	require.Len(t, vals, 3)

	require.Error(t, objs.AppendComboValue("Nope", "x", "y"))
	require.Error(t, objs.AppendComboValue("KSampler", "steps", "y"))
}

func TestValidate(t *testing.T) {
	objs := loadObjects(t)

	b := NewPromptBuilder()
	ckpt := b.Add("1", "CheckpointLoaderSimple", "", map[string]interface{}{"ckpt_name": "epicrealism_naturalSinRC1VAE.safetensors"})
	b.Add("11", "KSampler", "", map[string]interface{}{
		"seed":         uint64(42),
		"steps":        35,
		"cfg":          6.5,
		"sampler_name": "dpmpp_2m",
		"scheduler":    "karras",
		"denoise":      0.75,
		"model":        ckpt.Out(0),
	})
	p, err := b.Build("c")
	require.NoError(t, err)
	require.NoError(t, objs.Validate(p))
	require.Equal(t, int64(35), p.Nodes["11"].Inputs["steps"])

	p.Nodes["11"].Inputs["scheduler"] = "bogus"
	delete(p.Nodes["11"].Inputs, "model")
	p.Nodes["3"] = PromptNode{ClassType: "ControlNetLoader", Inputs: map[string]interface{}{}}
	err = objs.Validate(p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown node type ControlNetLoader")
	require.Contains(t, err.Error(), "missing required input model")
	require.Contains(t, err.Error(), "scheduler")
}
