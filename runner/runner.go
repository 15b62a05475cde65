// Package runner drives the try-on pipeline against a ComfyUI server: it checks
// that the server can run the pipeline, supplies the subject photo, queues one
// prompt per requested image and collects the saved outputs.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/richinsley/comfytryon/client"
	"github.com/richinsley/comfytryon/comfyenv"
	"github.com/richinsley/comfytryon/graphapi"
	"github.com/richinsley/comfytryon/tryon"
)

// ErrMissingNodes is returned when the server lacks node classes the pipeline needs
var ErrMissingNodes = errors.New("server is missing required nodes")

// Request describes one invocation of the pipeline
type Request struct {
	Params tryon.Params
	// Image overrides Params.Image.  It may be a data: URL, a local file, or the
	// name of an image already in the server's input folder.
	Image string
	// Count is the number of images to generate, 0 means 1
	Count int
	// Seed fixes the first sampler seed, later images use the following seeds.
	// Zero draws a fresh random seed for every image.
	Seed      uint64
	OutputDir string
}

// Result is one generated image set
type Result struct {
	PromptID string
	Seed     uint64
	// Files are the local paths of the downloaded outputs
	Files []string
}

type Runner struct {
	Client *client.ComfyClient
	// Env is the local ComfyUI installation used for preflight, may be nil
	Env *comfyenv.Env
	// NewSeed draws the seed for each image, defaults to tryon.RandomSeed
	NewSeed func() uint64
	// Progress receives progress bars, nil disables them
	Progress io.Writer
}

func New(c *client.ComfyClient, env *comfyenv.Env) *Runner {
	return &Runner{
		Client:   c,
		Env:      env,
		NewSeed:  tryon.RandomSeed,
		Progress: os.Stderr,
	}
}

// prepare initializes the client and checks the server can run the pipeline
func (r *Runner) prepare(p tryon.Params) (*graphapi.NodeObjects, bool, error) {
	if err := r.Client.CheckConnection(); err != nil {
		return nil, false, fmt.Errorf("connect to ComfyUI: %w", err)
	}

	if r.Env != nil && r.Env.HasRoot() {
		for _, m := range r.Env.Preflight(p.Models()) {
			// the server may search paths we cannot see
			slog.Warn("Model not found locally", "folder", m.Folder, "name", m.Name, "root", r.Env.Root)
		}
	}

	objects := r.Client.NodeObjects()
	hasPreprocessor := p.PosePreprocessor != "" && objects.HasNode(p.PosePreprocessor)
	if p.PosePreprocessor != "" && !hasPreprocessor {
		slog.Warn("Pose preprocessor not available, using the photo as the pose map", "node", p.PosePreprocessor)
	}
	if missing := objects.Missing(tryon.RequiredNodes(p, hasPreprocessor)); len(missing) != 0 {
		return nil, false, fmt.Errorf("%w: %v", ErrMissingNodes, missing)
	}
	return objects, hasPreprocessor, nil
}

// Run generates req.Count images.  Results for the images completed before an
// error are returned along with it.
func (r *Runner) Run(ctx context.Context, req Request) ([]Result, error) {
	if req.Count < 0 {
		return nil, fmt.Errorf("count must be at least 1, got %d", req.Count)
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Image != "" {
		req.Params.Image = req.Image
	}
	if err := req.Params.Validate(); err != nil {
		return nil, err
	}

	objects, hasPreprocessor, err := r.prepare(req.Params)
	if err != nil {
		return nil, err
	}

	image, err := r.resolveImage(req.Params.Image)
	if err != nil {
		return nil, fmt.Errorf("input image: %w", err)
	}

	if req.OutputDir != "" {
		if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
			return nil, err
		}
	}

	results := make([]Result, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		seed := r.seed(req.Seed, i)
		prompt, err := tryon.Build(req.Params, image, seed, hasPreprocessor)
		if err != nil {
			return results, err
		}
		if err := objects.Validate(prompt); err != nil {
			return results, fmt.Errorf("prompt rejected by node registry: %w", err)
		}

		slog.Info("Queueing try-on prompt", "image", image, "seed", seed, "index", i+1, "count", req.Count)
		res, err := r.runOne(ctx, prompt, req.OutputDir)
		if err != nil {
			return results, err
		}
		res.Seed = seed
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) seed(fixed uint64, i int) uint64 {
	if fixed == 0 {
		if r.NewSeed == nil {
			return tryon.RandomSeed()
		}
		return r.NewSeed()
	}
	// successive images step the seed like the frontend's "increment" control,
	// skipping 0 when the sum wraps
	s := fixed + uint64(i)
	if s < fixed {
		s++
	}
	return s
}

func (r *Runner) runOne(ctx context.Context, prompt *graphapi.Prompt, outputDir string) (Result, error) {
	item, err := r.Client.QueuePrompt(prompt)
	if err != nil {
		return Result{}, fmt.Errorf("queue prompt: %w", err)
	}
	slog.Info("Queued prompt", "prompt_id", item.PromptID, "number", item.Number, "queue_remaining", r.Client.QueueCount())

	outputs := make([]client.DataOutput, 0)
	handlers := r.messageHandlers().WithDataHandler(func(msg *client.PromptMessageData) {
		for _, v := range msg.Data {
			for _, output := range v {
				if output.IsFile() {
					outputs = append(outputs, output)
				}
			}
		}
	})

	if err := item.ProcessMessages(ctx, handlers); err != nil {
		return Result{PromptID: item.PromptID}, err
	}

	files, err := r.download(ctx, outputs, outputDir)
	if err != nil {
		return Result{PromptID: item.PromptID}, err
	}
	return Result{PromptID: item.PromptID, Files: files}, nil
}
