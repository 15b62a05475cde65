package graphapi

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestNodeOutputJSON(t *testing.T) {
	data, err := json.Marshal(NodeOutput{NodeID: "4", Slot: 1})
	require.NoError(t, err)
	require.JSONEq(t, `["4", 1]`, string(data))

	var o NodeOutput
	require.NoError(t, json.Unmarshal([]byte(`[12, 2]`), &o))
	require.Equal(t, NodeOutput{NodeID: "12", Slot: 2}, o)

	require.Error(t, json.Unmarshal([]byte(`["1"]`), &o))
	require.Error(t, json.Unmarshal([]byte(`[true, 0]`), &o))
}

func TestAsNodeOutput(t *testing.T) {
	o, ok := AsNodeOutput([]interface{}{"6", float64(1)})
	require.True(t, ok)
	require.Equal(t, NodeOutput{NodeID: "6", Slot: 1}, o)

	_, ok = AsNodeOutput("mens blue shirt")
	require.False(t, ok)
	_, ok = AsNodeOutput([]interface{}{"a", "b"})
	require.False(t, ok)
}

func TestPromptBuilder(t *testing.T) {
	b := NewPromptBuilder()
	ckpt := b.Add("1", "CheckpointLoaderSimple", "Load Checkpoint", map[string]interface{}{
		"ckpt_name": "model.safetensors",
	})
	b.Add("2", "CLIPTextEncode", "", map[string]interface{}{
		"text": "a shirt",
		"clip": ckpt.Out(1),
	})

	p, err := b.Build("client-1")
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2"}, b.Order())

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	want := map[string]interface{}{
		"client_id": "client-1",
		"prompt": map[string]interface{}{
			"1": map[string]interface{}{
				"class_type": "CheckpointLoaderSimple",
				"inputs":     map[string]interface{}{"ckpt_name": "model.safetensors"},
				"_meta":      map[string]interface{}{"title": "Load Checkpoint"},
			},
			"2": map[string]interface{}{
				"class_type": "CLIPTextEncode",
				"inputs":     map[string]interface{}{"text": "a shirt", "clip": []interface{}{"1", float64(1)}},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("prompt mismatch (-want +got):\n%s", diff)
	}
}

func TestPromptBuilderErrors(t *testing.T) {
	b := NewPromptBuilder()
	b.Add("1", "CheckpointLoaderSimple", "", nil)
	b.Add("1", "CheckpointLoaderSimple", "", nil)
	b.Add("2", "CLIPTextEncode", "", map[string]interface{}{"clip": NodeOutput{NodeID: "9", Slot: 1}})

	_, err := b.Build("c")
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate node id 1")
	require.Contains(t, err.Error(), "unknown node 9")
}

func TestPromptLookups(t *testing.T) {
	p := &Prompt{Nodes: map[string]PromptNode{
		"10": {ClassType: "KSampler"},
		"2":  {ClassType: "CLIPTextEncode", Meta: &PromptNodeMeta{Title: "Positive"}},
		"5":  {ClassType: "CLIPTextEncode"},
	}}
	require.Equal(t, []string{"2", "5", "10"}, p.NodeIDs())
	require.Equal(t, []string{"CLIPTextEncode", "KSampler"}, p.ClassTypes())

	n, ok := p.GetNodeById("10:3")
	require.True(t, ok)
	require.Equal(t, "KSampler", n.Title())

	n, ok = p.GetNodeById("2")
	require.True(t, ok)
	require.Equal(t, "Positive", n.Title())

	_, ok = p.GetNodeById("99")
	require.False(t, ok)
}

func TestValueAtIndex(t *testing.T) {
	tests := []struct {
		name    string
		obj     interface{}
		index   int
		want    interface{}
		wantErr bool
	}{
		{name: "sequence", obj: []interface{}{"model", "clip", "vae"}, index: 1, want: "clip"},
		{name: "sequence out of range", obj: []interface{}{"model"}, index: 3, wantErr: true},
		{name: "mapping key", obj: map[string]interface{}{"0": "a"}, index: 0, want: "a"},
		{name: "mapping result fallback", obj: map[string]interface{}{"ui": nil, "result": []interface{}{"x", "y"}}, index: 1, want: "y"},
		{name: "mapping without result", obj: map[string]interface{}{"ui": nil}, index: 0, wantErr: true},
		{name: "scalar", obj: 3, index: 0, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValueAtIndex(tt.obj, tt.index)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestPromptNodesFromValue(t *testing.T) {
	raw := map[string]interface{}{
		"1": map[string]interface{}{
			"class_type": "CheckpointLoaderSimple",
			"inputs":     map[string]interface{}{"ckpt_name": "a.safetensors"},
			"_meta":      map[string]interface{}{"title": "Load Checkpoint"},
		},
		"12": map[string]interface{}{
			"class_type": "VAEDecode",
			"inputs":     map[string]interface{}{"vae": []interface{}{"1", float64(2)}},
		},
	}
	nodes, err := PromptNodesFromValue(raw)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	require.Equal(t, "Load Checkpoint", nodes["1"].Title())
	out, ok := AsNodeOutput(nodes["12"].Inputs["vae"])
	require.True(t, ok)
	require.Equal(t, NodeOutput{NodeID: "1", Slot: 2}, out)

	_, err = PromptNodesFromValue([]interface{}{})
	require.Error(t, err)
	_, err = PromptNodesFromValue(map[string]interface{}{"1": map[string]interface{}{"inputs": map[string]interface{}{}}})
	require.Error(t, err)
}
