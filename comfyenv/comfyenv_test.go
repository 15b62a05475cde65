package comfyenv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestFindPath(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "ComfyUI")
	deep := filepath.Join(base, "work", "a", "b")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.MkdirAll(deep, 0o755))

	got, err := FindPath("ComfyUI", deep)
	require.NoError(t, err)
	require.Equal(t, root, got)

	// the start directory itself is checked first
	got, err = FindPath("b", filepath.Join(base, "work", "a"))
	require.NoError(t, err)
	require.Equal(t, deep, got)

	_, err = FindPath("definitely-not-here-7f3a", deep)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadExtraModelPaths(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "extra_model_paths.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
a111:
    base_path: /opt/webui/
    checkpoints: models/Stable-diffusion
    controlnet: |
        models/ControlNet
        extensions/sd-webui-controlnet/models

comfyui:
    base_path: shared
    is_default: true
    checkpoints: models/checkpoints/

loose:
    controlnet: /abs/controlnet
    vae: relative/vae

empty:
`), 0o644))

	paths, err := LoadExtraModelPaths(file)
	require.NoError(t, err)

	want := ModelPaths{
		"checkpoints": {
			{Path: "/opt/webui/models/Stable-diffusion"},
			{Path: filepath.Join(dir, "shared", "models", "checkpoints"), IsDefault: true},
		},
		"controlnet": {
			{Path: "/opt/webui/models/ControlNet"},
			{Path: "/opt/webui/extensions/sd-webui-controlnet/models"},
			{Path: "/abs/controlnet"},
		},
		"vae": {
			{Path: filepath.Join(dir, "relative", "vae")},
		},
	}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("LoadExtraModelPaths() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadExtraModelPathsErrors(t *testing.T) {
	_, err := LoadExtraModelPaths(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	file := filepath.Join(t.TempDir(), "extra_model_paths.yaml")
	require.NoError(t, os.WriteFile(file, []byte("- a\n- b\n"), 0o644))
	_, err = LoadExtraModelPaths(file)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(file, []byte("comfyui:\n  checkpoints: [a, b]\n"), 0o644))
	_, err = LoadExtraModelPaths(file)
	require.Error(t, err)
}

func TestDiscover(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "ComfyUI")
	work := filepath.Join(base, "work")
	require.NoError(t, os.MkdirAll(work, 0o755))
	touch(t, filepath.Join(root, "models", "checkpoints", "epicrealism_naturalSinRC1VAE.safetensors"))
	touch(t, filepath.Join(base, "shared", "controlnet", "control_sd15_openpose.pth"))
	require.NoError(t, os.WriteFile(filepath.Join(base, "extra_model_paths.yaml"), []byte(`
shared:
    base_path: shared
    controlnet: controlnet
`), 0o644))

	env, err := Discover(work)
	require.NoError(t, err)
	require.True(t, env.HasRoot())
	require.Equal(t, root, env.Root)
	require.Equal(t, filepath.Join(base, "extra_model_paths.yaml"), env.ExtraConfig)

	require.Equal(t, []string{
		filepath.Join(root, "models", "controlnet"),
		filepath.Join(base, "shared", "controlnet"),
	}, env.FolderPaths("controlnet"))
	require.Equal(t, []string{filepath.Join(root, "input")}, env.FolderPaths("input"))

	path, ok := env.Locate("controlnet", "control_sd15_openpose.pth")
	require.True(t, ok)
	require.Equal(t, filepath.Join(base, "shared", "controlnet", "control_sd15_openpose.pth"), path)

	missing := env.Preflight([]Ref{
		{Folder: "checkpoints", Name: "epicrealism_naturalSinRC1VAE.safetensors"},
		{Folder: "controlnet", Name: "control_sd15_openpose.pth"},
		{Folder: "controlnet", Name: "outfitToOutfit_v20.safetensors"},
	})
	require.Equal(t, []Ref{{Folder: "controlnet", Name: "outfitToOutfit_v20.safetensors"}}, missing)
	require.Equal(t, "controlnet/outfitToOutfit_v20.safetensors", missing[0].String())
}

func TestNewEnv(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ComfyUI")
	touch(t, filepath.Join(root, "models", "checkpoints", "sd15", "model.safetensors"))

	env, err := NewEnv(root, "")
	require.NoError(t, err)
	require.True(t, env.HasRoot())
	require.Empty(t, env.ExtraConfig)

	_, ok := env.Locate("checkpoints", "sd15/model.safetensors")
	require.True(t, ok)
	_, ok = env.Locate("checkpoints", "sd15")
	require.False(t, ok)

	_, err = NewEnv(filepath.Join(root, "missing"), "")
	require.Error(t, err)
}
