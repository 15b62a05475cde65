package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/richinsley/comfytryon/tryon"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("COMFYUI_ADDRESS", "")
	t.Setenv("COMFYUI_PORT", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "tryon.yaml"))
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadPartialFile(t *testing.T) {
	t.Setenv("COMFYUI_ADDRESS", "")
	t.Setenv("COMFYUI_PORT", "")

	path := filepath.Join(t.TempDir(), "tryon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: comfy.local
  port: 8189
count: 3
pipeline:
  positive: womens red dress
  steps: 20
  pose_preprocessor: ""
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	want := DefaultConfig()
	want.Server.Address = "comfy.local"
	want.Server.Port = 8189
	want.Count = 3
	want.Pipeline.Positive = "womens red dress"
	want.Pipeline.Steps = 20
	want.Pipeline.PosePreprocessor = ""
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, tryon.DefaultNegative, cfg.Pipeline.Negative)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("COMFYUI_ADDRESS", "10.0.0.5")
	t.Setenv("COMFYUI_PORT", "9000")

	path := filepath.Join(t.TempDir(), "tryon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: comfy.local\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5", cfg.Server.Address)
	require.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("COMFYUI_ADDRESS", "")
	t.Setenv("COMFYUI_PORT", "")
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"yaml", "server: [", "failed to parse config"},
		{"scheme", "server:\n  scheme: ftp\n", "invalid server scheme"},
		{"port", "server:\n  port: 70000\n", "invalid server port"},
		{"count", "count: 0\n", "count must be at least 1"},
		{"pipeline", "pipeline:\n  denoise: 2\n", "denoise must be in (0, 1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := Load(path)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("COMFYUI_ADDRESS", "")
	t.Setenv("COMFYUI_PORT", "")

	path := filepath.Join(t.TempDir(), "tryon.yaml")
	cfg := DefaultConfig()
	cfg.Pipeline.Image = "subject.png"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("Save/Load mismatch (-want +got):\n%s", diff)
	}
}
