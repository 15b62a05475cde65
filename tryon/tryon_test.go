package tryon

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/richinsley/comfytryon/client"
	"github.com/richinsley/comfytryon/comfyenv"
	"github.com/richinsley/comfytryon/graphapi"
	"github.com/richinsley/comfytryon/internal/fakecomfy"
	"github.com/stretchr/testify/require"
)

const wantPrompt = `{
	"client_id": "",
	"prompt": {
		"1":  {"class_type": "CheckpointLoaderSimple", "_meta": {"title": "Load Checkpoint"},
		       "inputs": {"ckpt_name": "epicrealism_naturalSinRC1VAE.safetensors"}},
		"2":  {"class_type": "CLIPTextEncode", "_meta": {"title": "Positive Prompt"},
		       "inputs": {"text": "mens blue shirt", "clip": ["1", 1]}},
		"5":  {"class_type": "CLIPTextEncode", "_meta": {"title": "Negative Prompt"},
		       "inputs": {"text": "disfigured, multiple fingers,blurred", "clip": ["1", 1]}},
		"7":  {"class_type": "ControlNetLoader", "_meta": {"title": "Outfit ControlNet"},
		       "inputs": {"control_net_name": "outfitToOutfit_v20.safetensors"}},
		"9":  {"class_type": "ControlNetLoader", "_meta": {"title": "Pose ControlNet"},
		       "inputs": {"control_net_name": "control_sd15_openpose.pth"}},
		"17": {"class_type": "LoadImage", "_meta": {"title": "Subject Photo"},
		       "inputs": {"image": "WhatsApp Image 2024-09-05 at 22.10.34_97428e31.jpg"}},
		"6":  {"class_type": "ControlNetApplyAdvanced", "_meta": {"title": "Apply Outfit ControlNet"},
		       "inputs": {"positive": ["2", 0], "negative": ["5", 0], "control_net": ["7", 0], "image": ["17", 0],
		                  "strength": 1, "start_percent": 0, "end_percent": 1}},
		"10": {"class_type": "OpenposePreprocessor", "_meta": {"title": "Pose Map"},
		       "inputs": {"image": ["17", 0], "detect_hand": "enable", "detect_body": "enable", "detect_face": "enable", "resolution": 512}},
		"8":  {"class_type": "ControlNetApplyAdvanced", "_meta": {"title": "Apply Pose ControlNet"},
		       "inputs": {"positive": ["6", 0], "negative": ["6", 1], "control_net": ["9", 0], "image": ["10", 0],
		                  "strength": 1, "start_percent": 0, "end_percent": 1}},
		"31": {"class_type": "VAEEncode", "_meta": {"title": "Encode Photo"},
		       "inputs": {"pixels": ["17", 0], "vae": ["1", 2]}},
		"11": {"class_type": "KSampler", "_meta": {"title": "KSampler"},
		       "inputs": {"seed": 42, "steps": 35, "cfg": 6.5, "sampler_name": "dpmpp_2m", "scheduler": "karras", "denoise": 0.75,
		                  "model": ["1", 0], "positive": ["8", 0], "negative": ["8", 1], "latent_image": ["31", 0]}},
		"12": {"class_type": "VAEDecode", "_meta": {"title": "VAE Decode"},
		       "inputs": {"samples": ["11", 0], "vae": ["1", 2]}},
		"13": {"class_type": "SaveImage", "_meta": {"title": "Save Image"},
		       "inputs": {"images": ["12", 0], "filename_prefix": "tryon"}}
	}
}`

func TestBuild(t *testing.T) {
	p, err := Build(DefaultParams(), "", 42, true)
	require.NoError(t, err)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	require.JSONEq(t, wantPrompt, string(data))
}

func TestBuildWithoutPreprocessor(t *testing.T) {
	p, err := Build(DefaultParams(), "subject.png", 7, false)
	require.NoError(t, err)

	_, ok := p.Nodes[NodePoseMap]
	require.False(t, ok)
	require.Equal(t, graphapi.NodeOutput{NodeID: NodePhoto, Slot: 0}, p.Nodes[NodePoseApply].Inputs["image"])
	require.Equal(t, "subject.png", p.Nodes[NodePhoto].Inputs["image"])

	// no preprocessor configured at all
	params := DefaultParams()
	params.PosePreprocessor = ""
	p, err = Build(params, "", 7, true)
	require.NoError(t, err)
	_, ok = p.Nodes[NodePoseMap]
	require.False(t, ok)
}

func TestBuildValidatesAgainstRegistry(t *testing.T) {
	objects, err := graphapi.NewNodeObjectsFromJSON(fakecomfy.ObjectInfo)
	require.NoError(t, err)

	p, err := Build(DefaultParams(), "", math.MaxUint64, true)
	require.NoError(t, err)
	require.Empty(t, objects.Missing(p.ClassTypes()))
	require.NoError(t, objects.Validate(p))
	require.Equal(t, uint64(math.MaxUint64), p.Nodes[NodeSampler].Inputs["seed"])
	require.Equal(t, int64(35), p.Nodes[NodeSampler].Inputs["steps"])

	// a checkpoint the server does not list
	params := DefaultParams()
	params.Checkpoint = "missing.safetensors"
	p, err = Build(params, "", 1, true)
	require.NoError(t, err)
	require.ErrorContains(t, objects.Validate(p), "ckpt_name")
}

func TestRequiredNodes(t *testing.T) {
	p, err := Build(DefaultParams(), "", 1, true)
	require.NoError(t, err)

	want := p.ClassTypes()
	got := RequiredNodes(DefaultParams(), true)
	if diff := cmp.Diff(want, got, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("RequiredNodes() mismatch (-build +required):\n%s", diff)
	}
	require.NotContains(t, RequiredNodes(DefaultParams(), false), DefaultPosePreprocessor)
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	tests := []struct {
		name   string
		modify func(p *Params)
		want   string
	}{
		{"empty checkpoint", func(p *Params) { p.Checkpoint = "" }, "checkpoint must not be empty"},
		{"empty image", func(p *Params) { p.Image = "" }, "image must not be empty"},
		{"steps", func(p *Params) { p.Steps = 0 }, "steps must be at least 1"},
		{"cfg", func(p *Params) { p.CFG = 0 }, "cfg must be positive"},
		{"denoise zero", func(p *Params) { p.Denoise = 0 }, "denoise must be in (0, 1]"},
		{"denoise above one", func(p *Params) { p.Denoise = 1.5 }, "denoise must be in (0, 1]"},
		{"strength", func(p *Params) { p.ControlStrength = -1 }, "control_strength must not be negative"},
		{"range", func(p *Params) { p.ControlEnd = 2 }, "must be in [0, 1]"},
		{"order", func(p *Params) { p.ControlStart, p.ControlEnd = 0.8, 0.2 }, "is after control_end"},
		{"pose resolution", func(p *Params) { p.PoseResolution = 0 }, "pose_resolution"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.modify(&p)
			err := p.Validate()
			require.ErrorContains(t, err, tt.want)

			_, err = Build(p, "", 1, true)
			require.Error(t, err)
		})
	}
}

func TestModels(t *testing.T) {
	want := []comfyenv.Ref{
		{Folder: "checkpoints", Name: "epicrealism_naturalSinRC1VAE.safetensors"},
		{Folder: "controlnet", Name: "outfitToOutfit_v20.safetensors"},
		{Folder: "controlnet", Name: "control_sd15_openpose.pth"},
	}
	if diff := cmp.Diff(want, DefaultParams().Models()); diff != "" {
		t.Errorf("Models() mismatch (-want +got):\n%s", diff)
	}
}

func TestRandomSeed(t *testing.T) {
	seen := make(map[uint64]bool)
	for i := 0; i < 1000; i++ {
		s := RandomSeed()
		require.NotZero(t, s)
		seen[s] = true
	}
	require.Greater(t, len(seen), 990)
}

func TestDescribe(t *testing.T) {
	p, err := Build(DefaultParams(), "", 18446744073709551615, true)
	require.NoError(t, err)

	s, err := Describe(p)
	require.NoError(t, err)
	want := &Summary{
		Seed:       "18446744073709551615",
		Steps:      "35",
		CFG:        "6.5",
		Sampler:    "dpmpp_2m",
		Scheduler:  "karras",
		Denoise:    "0.75",
		Checkpoint: DefaultCheckpoint,
		Image:      DefaultImage,
		Positive:   DefaultPositive,
		Negative:   DefaultNegative,
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("Describe() mismatch (-want +got):\n%s", diff)
	}

	// the same prompt as embedded in a saved image
	data, err := json.Marshal(p.Nodes)
	require.NoError(t, err)
	png := fakecomfy.PNGWithText(map[string]string{"prompt": string(data)})
	saved, err := client.GetPngPrompt(bytes.NewReader(png))
	require.NoError(t, err)
	s, err = Describe(saved)
	require.NoError(t, err)
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("Describe(saved) mismatch (-want +got):\n%s", diff)
	}

	_, err = Describe(&graphapi.Prompt{Nodes: map[string]graphapi.PromptNode{}})
	require.Error(t, err)
}
