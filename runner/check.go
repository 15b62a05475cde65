package runner

import (
	"fmt"

	"github.com/richinsley/comfytryon/client"
	"github.com/richinsley/comfytryon/comfyenv"
	"github.com/richinsley/comfytryon/tryon"
)

// Report is the result of checking whether the pipeline can run
type Report struct {
	Stats *client.SystemStats
	// MissingNodes are required node classes the server does not provide
	MissingNodes    []string
	HasPreprocessor bool
	// MissingModels are models the server's loaders do not list
	MissingModels []comfyenv.Ref
	// MissingLocal are models absent from the local installation, nil without one
	MissingLocal []comfyenv.Ref
	// ImageAvailable is true when the server lists the image or Run would upload it
	ImageAvailable bool
}

// OK reports whether the pipeline can be queued as configured
func (rep *Report) OK() bool {
	return len(rep.MissingNodes) == 0 && len(rep.MissingModels) == 0 && rep.ImageAvailable
}

var modelLoaders = map[string]struct {
	classType string
	input     string
}{
	"checkpoints": {"CheckpointLoaderSimple", "ckpt_name"},
	"controlnet":  {"ControlNetLoader", "control_net_name"},
}

// Check inspects the server and the local installation without queueing anything
func (r *Runner) Check(p tryon.Params) (*Report, error) {
	if err := r.Client.CheckConnection(); err != nil {
		return nil, fmt.Errorf("connect to ComfyUI: %w", err)
	}

	rep := &Report{}
	stats, err := r.Client.GetSystemStats()
	if err != nil {
		return nil, err
	}
	rep.Stats = stats

	objects := r.Client.NodeObjects()
	rep.HasPreprocessor = p.PosePreprocessor != "" && objects.HasNode(p.PosePreprocessor)
	rep.MissingNodes = objects.Missing(tryon.RequiredNodes(p, false))

	rep.MissingModels = make([]comfyenv.Ref, 0)
	for _, m := range p.Models() {
		loader := modelLoaders[m.Folder]
		values, ok := objects.ComboValues(loader.classType, loader.input)
		if !ok || !contains(values, m.Name) {
			rep.MissingModels = append(rep.MissingModels, m)
		}
	}

	if images, ok := objects.ComboValues("LoadImage", "image"); ok {
		rep.ImageAvailable = contains(images, p.Image) || uploadable(p.Image)
	}

	if r.Env != nil && r.Env.HasRoot() {
		rep.MissingLocal = r.Env.Preflight(p.Models())
	}
	return rep, nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
