package tryon

import (
	"errors"
	"fmt"

	"github.com/richinsley/comfytryon/graphapi"
)

// Summary is what a finished prompt was generated with
type Summary struct {
	Seed       string
	Steps      string
	CFG        string
	Sampler    string
	Scheduler  string
	Denoise    string
	Checkpoint string
	Image      string
	Positive   string
	Negative   string
}

// maximum number of links followed from the sampler to a text encoder
const maxLinkDepth = 16

// Describe summarizes a prompt built by Build, or any prompt with a KSampler
// whose conditioning can be traced back to CLIPTextEncode nodes
func Describe(p *graphapi.Prompt) (*Summary, error) {
	var sampler *graphapi.PromptNode
	for _, id := range p.NodeIDs() {
		if n := p.Nodes[id]; n.ClassType == "KSampler" {
			sampler = &n
			break
		}
	}
	if sampler == nil {
		return nil, errors.New("prompt has no KSampler")
	}

	s := &Summary{
		Seed:      literal(sampler.Inputs["seed"]),
		Steps:     literal(sampler.Inputs["steps"]),
		CFG:       literal(sampler.Inputs["cfg"]),
		Sampler:   literal(sampler.Inputs["sampler_name"]),
		Scheduler: literal(sampler.Inputs["scheduler"]),
		Denoise:   literal(sampler.Inputs["denoise"]),
	}

	var err error
	if s.Positive, err = trace(p, sampler.Inputs["positive"], "positive", "CLIPTextEncode", "text"); err != nil {
		return nil, fmt.Errorf("positive prompt: %w", err)
	}
	if s.Negative, err = trace(p, sampler.Inputs["negative"], "negative", "CLIPTextEncode", "text"); err != nil {
		return nil, fmt.Errorf("negative prompt: %w", err)
	}
	// the checkpoint and photo are informational
	s.Checkpoint, _ = trace(p, sampler.Inputs["model"], "model", "CheckpointLoaderSimple", "ckpt_name")
	s.Image, _ = trace(p, sampler.Inputs["latent_image"], "pixels", "LoadImage", "image")
	return s, nil
}

// trace follows links through the via input until it reaches a node of
// classType, and returns that node's input
func trace(p *graphapi.Prompt, v interface{}, via string, classType string, input string) (string, error) {
	for depth := 0; depth < maxLinkDepth; depth++ {
		link, ok := graphapi.AsNodeOutput(v)
		if !ok {
			return "", fmt.Errorf("input %s is not linked", via)
		}
		n, ok := p.GetNodeById(link.NodeID)
		if !ok {
			return "", fmt.Errorf("link to missing node %s", link.NodeID)
		}
		if n.ClassType == classType {
			return literal(n.Inputs[input]), nil
		}
		next, ok := n.Inputs[via]
		if !ok {
			// encoders and loaders carry their input under a different name
			for _, alt := range []string{"conditioning", "samples", "image"} {
				if next, ok = n.Inputs[alt]; ok {
					break
				}
			}
		}
		if !ok {
			return "", fmt.Errorf("node %s (%s) has no %s input", link.NodeID, n.ClassType, via)
		}
		v = next
	}
	return "", fmt.Errorf("no %s found within %d links", classType, maxLinkDepth)
}

func literal(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
