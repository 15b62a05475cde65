package comfyenv

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// RootName is the directory name of a ComfyUI installation
	RootName = "ComfyUI"
	// ExtraModelPathsName is the optional file listing additional model folders
	ExtraModelPathsName = "extra_model_paths.yaml"
)

// Ref names a model file inside one of ComfyUI's model folders
type Ref struct {
	Folder string `json:"folder"`
	Name   string `json:"name"`
}

func (r Ref) String() string {
	return r.Folder + "/" + r.Name
}

// Env describes the local ComfyUI installation, if any
type Env struct {
	// Root is the ComfyUI directory, or "" when none was found
	Root string
	// ExtraConfig is the extra_model_paths.yaml that was loaded, or ""
	ExtraConfig string
	Extra       ModelPaths
}

// Discover walks up from start looking for a ComfyUI installation and an
// extra_model_paths.yaml.  Neither is required: a remote server does not need them.
func Discover(start string) (*Env, error) {
	env := &Env{Extra: make(ModelPaths)}

	root, err := FindPath(RootName, start)
	switch {
	case errors.Is(err, ErrNotFound):
		slog.Debug("No ComfyUI installation found", "start", start)
	case err != nil:
		return nil, err
	default:
		if fi, err := os.Stat(root); err == nil && fi.IsDir() {
			slog.Info("ComfyUI found", "path", root)
			env.Root = root
		}
	}

	extra, err := FindPath(ExtraModelPathsName, start)
	switch {
	case errors.Is(err, ErrNotFound):
		slog.Info("Could not find the extra_model_paths config file")
	case err != nil:
		return nil, err
	default:
		paths, err := LoadExtraModelPaths(extra)
		if err != nil {
			return nil, fmt.Errorf("load extra model paths: %w", err)
		}
		env.ExtraConfig = extra
		env.Extra = paths
	}

	return env, nil
}

// NewEnv returns an Env rooted at an explicitly configured ComfyUI directory
func NewEnv(root string, extraConfig string) (*Env, error) {
	env := &Env{Root: root, Extra: make(ModelPaths)}
	if fi, err := os.Stat(root); err != nil {
		return nil, err
	} else if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	if extraConfig == "" {
		candidate := filepath.Join(root, ExtraModelPathsName)
		if _, err := os.Stat(candidate); err == nil {
			extraConfig = candidate
		}
	}
	if extraConfig != "" {
		paths, err := LoadExtraModelPaths(extraConfig)
		if err != nil {
			return nil, fmt.Errorf("load extra model paths: %w", err)
		}
		env.ExtraConfig = extraConfig
		env.Extra = paths
	}
	return env, nil
}

// HasRoot reports whether a local ComfyUI installation was found
func (e *Env) HasRoot() bool {
	return e.Root != ""
}

// FolderPaths returns the directories ComfyUI searches for folder, in search order
func (e *Env) FolderPaths(folder string) []string {
	retv := make([]string, 0)
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			retv = append(retv, p)
		}
	}

	for _, p := range e.Extra[folder] {
		if p.IsDefault {
			add(p.Path)
		}
	}
	if e.Root != "" {
		switch folder {
		case "input", "output", "temp":
			add(filepath.Join(e.Root, folder))
		default:
			add(filepath.Join(e.Root, "models", folder))
		}
	}
	for _, p := range e.Extra[folder] {
		if !p.IsDefault {
			add(p.Path)
		}
	}
	return retv
}

// Locate returns the path of the first file matching name in folder's search paths
func (e *Env) Locate(folder string, name string) (string, bool) {
	for _, dir := range e.FolderPaths(folder) {
		candidate := filepath.Join(dir, filepath.FromSlash(name))
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// Preflight returns the refs that cannot be found locally
func (e *Env) Preflight(refs []Ref) []Ref {
	missing := make([]Ref, 0)
	for _, r := range refs {
		if _, ok := e.Locate(r.Folder, r.Name); !ok {
			missing = append(missing, r)
		}
	}
	return missing
}
