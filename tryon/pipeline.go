package tryon

import (
	"github.com/richinsley/comfytryon/graphapi"
)

// Node ids of the pipeline
const (
	NodeCheckpoint   = "1"
	NodePositive     = "2"
	NodeNegative     = "5"
	NodeOutfitApply  = "6"
	NodeOutfitLoader = "7"
	NodePoseApply    = "8"
	NodePoseLoader   = "9"
	NodePoseMap      = "10"
	NodeSampler      = "11"
	NodeDecode       = "12"
	NodeSave         = "13"
	NodePhoto        = "17"
	NodeEncode       = "31"
)

var baseNodes = []string{
	"CheckpointLoaderSimple",
	"CLIPTextEncode",
	"ControlNetLoader",
	"LoadImage",
	"ControlNetApplyAdvanced",
	"VAEEncode",
	"KSampler",
	"VAEDecode",
	"SaveImage",
}

// RequiredNodes returns the node classes Build uses
func RequiredNodes(p Params, hasPreprocessor bool) []string {
	retv := append([]string(nil), baseNodes...)
	if hasPreprocessor && p.PosePreprocessor != "" {
		retv = append(retv, p.PosePreprocessor)
	}
	return retv
}

// Build returns the pipeline prompt for the subject photo image, which overrides
// p.Image when set.  The pose ControlNet is guided by a pose map only when
// hasPreprocessor is true, otherwise it sees the photo itself.
func Build(p Params, image string, seed uint64, hasPreprocessor bool) (*graphapi.Prompt, error) {
	if image != "" {
		p.Image = image
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	b := graphapi.NewPromptBuilder()

	ckpt := b.Add(NodeCheckpoint, "CheckpointLoaderSimple", "Load Checkpoint", map[string]interface{}{
		"ckpt_name": p.Checkpoint,
	})
	positive := b.Add(NodePositive, "CLIPTextEncode", "Positive Prompt", map[string]interface{}{
		"text": p.Positive,
		"clip": ckpt.Out(1),
	})
	negative := b.Add(NodeNegative, "CLIPTextEncode", "Negative Prompt", map[string]interface{}{
		"text": p.Negative,
		"clip": ckpt.Out(1),
	})
	outfitNet := b.Add(NodeOutfitLoader, "ControlNetLoader", "Outfit ControlNet", map[string]interface{}{
		"control_net_name": p.OutfitControlNet,
	})
	poseNet := b.Add(NodePoseLoader, "ControlNetLoader", "Pose ControlNet", map[string]interface{}{
		"control_net_name": p.PoseControlNet,
	})
	photo := b.Add(NodePhoto, "LoadImage", "Subject Photo", map[string]interface{}{
		"image": p.Image,
	})

	outfit := b.Add(NodeOutfitApply, "ControlNetApplyAdvanced", "Apply Outfit ControlNet", map[string]interface{}{
		"positive":      positive.Out(0),
		"negative":      negative.Out(0),
		"control_net":   outfitNet.Out(0),
		"image":         photo.Out(0),
		"strength":      p.ControlStrength,
		"start_percent": p.ControlStart,
		"end_percent":   p.ControlEnd,
	})

	poseMap := photo.Out(0)
	if hasPreprocessor && p.PosePreprocessor != "" {
		pre := b.Add(NodePoseMap, p.PosePreprocessor, "Pose Map", map[string]interface{}{
			"image":       photo.Out(0),
			"detect_hand": "enable",
			"detect_body": "enable",
			"detect_face": "enable",
			"resolution":  p.PoseResolution,
		})
		poseMap = pre.Out(0)
	}

	pose := b.Add(NodePoseApply, "ControlNetApplyAdvanced", "Apply Pose ControlNet", map[string]interface{}{
		"positive":      outfit.Out(0),
		"negative":      outfit.Out(1),
		"control_net":   poseNet.Out(0),
		"image":         poseMap,
		"strength":      p.ControlStrength,
		"start_percent": p.ControlStart,
		"end_percent":   p.ControlEnd,
	})

	latent := b.Add(NodeEncode, "VAEEncode", "Encode Photo", map[string]interface{}{
		"pixels": photo.Out(0),
		"vae":    ckpt.Out(2),
	})
	sampler := b.Add(NodeSampler, "KSampler", "KSampler", map[string]interface{}{
		"seed":         seed,
		"steps":        p.Steps,
		"cfg":          p.CFG,
		"sampler_name": p.Sampler,
		"scheduler":    p.Scheduler,
		"denoise":      p.Denoise,
		"model":        ckpt.Out(0),
		"positive":     pose.Out(0),
		"negative":     pose.Out(1),
		"latent_image": latent.Out(0),
	})
	decoded := b.Add(NodeDecode, "VAEDecode", "VAE Decode", map[string]interface{}{
		"samples": sampler.Out(0),
		"vae":     ckpt.Out(2),
	})
	b.Add(NodeSave, "SaveImage", "Save Image", map[string]interface{}{
		"images":          decoded.Out(0),
		"filename_prefix": p.OutputPrefix,
	})

	return b.Build("")
}
