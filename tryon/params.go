// Package tryon builds the garment try-on pipeline: a photo of the subject is
// re-encoded and re-sampled under two ControlNets, one transferring the outfit
// described by the prompt and one holding the subject's pose.
package tryon

import (
	"errors"
	"fmt"

	"github.com/richinsley/comfytryon/comfyenv"
)

const (
	DefaultCheckpoint       = "epicrealism_naturalSinRC1VAE.safetensors"
	DefaultPositive         = "mens blue shirt"
	DefaultNegative         = "disfigured, multiple fingers,blurred"
	DefaultOutfitControlNet = "outfitToOutfit_v20.safetensors"
	DefaultPoseControlNet   = "control_sd15_openpose.pth"
	DefaultImage            = "WhatsApp Image 2024-09-05 at 22.10.34_97428e31.jpg"
	DefaultPosePreprocessor = "OpenposePreprocessor"
)

// Params are the literal values fed to the pipeline's nodes
type Params struct {
	Checkpoint       string `yaml:"checkpoint"`
	Positive         string `yaml:"positive"`
	Negative         string `yaml:"negative"`
	OutfitControlNet string `yaml:"outfit_controlnet"`
	PoseControlNet   string `yaml:"pose_controlnet"`
	// Image is the subject photo, by its name in the server's input folder
	Image string `yaml:"image"`

	ControlStrength float64 `yaml:"control_strength"`
	ControlStart    float64 `yaml:"control_start"`
	ControlEnd      float64 `yaml:"control_end"`

	Steps     int     `yaml:"steps"`
	CFG       float64 `yaml:"cfg"`
	Sampler   string  `yaml:"sampler"`
	Scheduler string  `yaml:"scheduler"`
	Denoise   float64 `yaml:"denoise"`

	OutputPrefix string `yaml:"output_prefix"`

	// PosePreprocessor turns the photo into a pose map.  Leave empty to feed the
	// photo to the pose ControlNet directly.
	PosePreprocessor string `yaml:"pose_preprocessor"`
	PoseResolution   int    `yaml:"pose_resolution"`
}

// DefaultParams returns the pipeline's stock settings
func DefaultParams() Params {
	return Params{
		Checkpoint:       DefaultCheckpoint,
		Positive:         DefaultPositive,
		Negative:         DefaultNegative,
		OutfitControlNet: DefaultOutfitControlNet,
		PoseControlNet:   DefaultPoseControlNet,
		Image:            DefaultImage,
		ControlStrength:  1.0,
		ControlStart:     0,
		ControlEnd:       1,
		Steps:            35,
		CFG:              6.5,
		Sampler:          "dpmpp_2m",
		Scheduler:        "karras",
		Denoise:          0.75,
		OutputPrefix:     "tryon",
		PosePreprocessor: DefaultPosePreprocessor,
		PoseResolution:   512,
	}
}

// Validate reports every out of range or missing parameter
func (p Params) Validate() error {
	errs := make([]error, 0)
	required := []struct {
		name, value string
	}{
		{"checkpoint", p.Checkpoint},
		{"outfit_controlnet", p.OutfitControlNet},
		{"pose_controlnet", p.PoseControlNet},
		{"image", p.Image},
		{"sampler", p.Sampler},
		{"scheduler", p.Scheduler},
		{"output_prefix", p.OutputPrefix},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", r.name))
		}
	}
	if p.Steps < 1 {
		errs = append(errs, fmt.Errorf("steps must be at least 1, got %d", p.Steps))
	}
	if p.CFG <= 0 {
		errs = append(errs, fmt.Errorf("cfg must be positive, got %g", p.CFG))
	}
	if p.Denoise <= 0 || p.Denoise > 1 {
		errs = append(errs, fmt.Errorf("denoise must be in (0, 1], got %g", p.Denoise))
	}
	if p.ControlStrength < 0 {
		errs = append(errs, fmt.Errorf("control_strength must not be negative, got %g", p.ControlStrength))
	}
	if p.ControlStart < 0 || p.ControlStart > 1 || p.ControlEnd < 0 || p.ControlEnd > 1 {
		errs = append(errs, fmt.Errorf("control_start and control_end must be in [0, 1], got %g and %g", p.ControlStart, p.ControlEnd))
	} else if p.ControlStart > p.ControlEnd {
		errs = append(errs, fmt.Errorf("control_start %g is after control_end %g", p.ControlStart, p.ControlEnd))
	}
	if p.PosePreprocessor != "" && p.PoseResolution < 64 {
		errs = append(errs, fmt.Errorf("pose_resolution must be at least 64, got %d", p.PoseResolution))
	}
	return errors.Join(errs...)
}

// Models returns the model files the pipeline loads
func (p Params) Models() []comfyenv.Ref {
	return []comfyenv.Ref{
		{Folder: "checkpoints", Name: p.Checkpoint},
		{Folder: "controlnet", Name: p.OutfitControlNet},
		{Folder: "controlnet", Name: p.PoseControlNet},
	}
}
