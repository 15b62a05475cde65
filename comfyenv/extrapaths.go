package comfyenv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FolderPath is a directory ComfyUI searches for one kind of model
type FolderPath struct {
	Path      string
	IsDefault bool
}

// ModelPaths maps a folder name ("checkpoints", "controlnet", ...) to extra search paths
type ModelPaths map[string][]FolderPath

// LoadExtraModelPaths reads an extra_model_paths.yaml file.
//
//	comfyui:
//	  base_path: ~/ComfyUI/
//	  is_default: true
//	  checkpoints: models/checkpoints/
//	  controlnet: |
//	    models/controlnet/
//	    models/t2i_adapter/
//
// Paths are relative to base_path, which itself is relative to the file's directory.
// Sections without entries are skipped.
func LoadExtraModelPaths(file string) (ModelPaths, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	yamlDir, err := filepath.Abs(filepath.Dir(file))
	if err != nil {
		return nil, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}

	paths := make(ModelPaths)
	if len(doc.Content) == 0 {
		return paths, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse %s: top level is not a mapping", file)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		section := root.Content[i+1]
		if section.Kind != yaml.MappingNode {
			continue
		}
		if err := paths.addSection(section, yamlDir); err != nil {
			return nil, fmt.Errorf("parse %s: section %s: %w", file, root.Content[i].Value, err)
		}
	}
	return paths, nil
}

func (m ModelPaths) addSection(section *yaml.Node, yamlDir string) error {
	basePath := ""
	isDefault := false
	for i := 0; i+1 < len(section.Content); i += 2 {
		key, val := section.Content[i].Value, section.Content[i+1]
		switch key {
		case "base_path":
			basePath = expandPath(val.Value)
			if !filepath.IsAbs(basePath) {
				basePath = filepath.Join(yamlDir, basePath)
			}
		case "is_default":
			if err := val.Decode(&isDefault); err != nil {
				return err
			}
		}
	}

	for i := 0; i+1 < len(section.Content); i += 2 {
		folder, val := section.Content[i].Value, section.Content[i+1]
		if folder == "base_path" || folder == "is_default" {
			continue
		}
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("%s: expected a path or newline separated paths", folder)
		}
		for _, p := range strings.Split(val.Value, "\n") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			full := p
			if basePath != "" {
				full = filepath.Join(basePath, p)
			} else if !filepath.IsAbs(full) {
				full = filepath.Join(yamlDir, p)
			}
			m.add(folder, FolderPath{Path: filepath.Clean(full), IsDefault: isDefault})
		}
	}
	return nil
}

func (m ModelPaths) add(folder string, p FolderPath) {
	for _, existing := range m[folder] {
		if existing.Path == p.Path {
			return
		}
	}
	m[folder] = append(m[folder], p)
}

func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
