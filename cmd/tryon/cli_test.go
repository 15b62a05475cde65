package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/richinsley/comfytryon/config"
	"github.com/richinsley/comfytryon/internal/fakecomfy"
	"github.com/richinsley/comfytryon/tryon"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestInspect(t *testing.T) {
	p, err := tryon.Build(tryon.DefaultParams(), "", 42, true)
	require.NoError(t, err)
	data, err := json.Marshal(p.Nodes)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "tryon_00001_.png")
	require.NoError(t, os.WriteFile(path, fakecomfy.PNGWithText(map[string]string{"prompt": string(data)}), 0o644))

	out, err := execute(t, "inspect", path)
	require.NoError(t, err)
	require.Contains(t, out, "seed:       42\n")
	require.Contains(t, out, "prompt:     mens blue shirt\n")
	require.Contains(t, out, "sampler:    dpmpp_2m karras\n")

	out, err = execute(t, "inspect", "--json", path)
	require.NoError(t, err)
	require.Contains(t, out, `"class_type": "KSampler"`)
	inspectJSON = false

	_, err = execute(t, "inspect", filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
}

func serverArgs(t *testing.T, srv *fakecomfy.Server) []string {
	t.Helper()
	t.Setenv("COMFYUI_ADDRESS", "")
	t.Setenv("COMFYUI_PORT", "")
	host, port := srv.Addr()
	return []string{
		"--config", filepath.Join(t.TempDir(), "none.yaml"),
		"--address", host,
		"--port", strconv.Itoa(port),
		"--timeout", "5",
		"--retry", "1",
	}
}

func TestRunCommand(t *testing.T) {
	srv := fakecomfy.New(t, nil)
	outDir := t.TempDir()

	args := append([]string{"run"}, serverArgs(t, srv)...)
	args = append(args, "--out", outDir, "--seed", "7", "--prompt", "womens red dress")
	out, err := execute(t, args...)
	require.NoError(t, err)
	require.Contains(t, out, filepath.Join(outDir, "tryon_00001_.png")+"\tseed=7\t")

	queued := srv.Queued()
	require.Len(t, queued, 1)
	require.Equal(t, "womens red dress", queued[0].Prompt.Nodes[tryon.NodePositive].Inputs["text"])
}

func TestCheckCommand(t *testing.T) {
	srv := fakecomfy.New(t, nil)

	args := append([]string{"check"}, serverArgs(t, srv)...)
	out, err := execute(t, args...)
	require.NoError(t, err)
	require.Contains(t, out, "ComfyUI 0.3.10")
	require.Contains(t, out, "OK\n")
}

func TestConfigInit(t *testing.T) {
	t.Setenv("COMFYUI_ADDRESS", "")
	t.Setenv("COMFYUI_PORT", "")
	path := filepath.Join(t.TempDir(), "tryon.yaml")

	out, err := execute(t, "config", "init", "--config", path, "--port", "9188")
	require.NoError(t, err)
	require.Contains(t, out, "wrote "+path)

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 9188, loaded.Server.Port)
	require.Equal(t, tryon.DefaultCheckpoint, loaded.Pipeline.Checkpoint)

	_, err = execute(t, "config", "init", "--config", path)
	require.Error(t, err)

	_, err = execute(t, "config", "init", "--config", path, "--force")
	require.NoError(t, err)
	configForce = false
}

func TestRunCommandRejectsCount(t *testing.T) {
	srv := fakecomfy.New(t, nil)
	t.Cleanup(func() { runCount = 1 })

	args := append([]string{"run"}, serverArgs(t, srv)...)
	_, err := execute(t, append(args, "--count", "0", "--out", t.TempDir())...)
	require.ErrorContains(t, err, "count must be at least 1, got 0")
	require.Empty(t, srv.Queued())
}

func TestCheckCommandMissingImage(t *testing.T) {
	srv := fakecomfy.New(t, nil)
	path := filepath.Join(t.TempDir(), "tryon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  image: elsewhere.png\n"), 0o644))

	args := append([]string{"check"}, serverArgs(t, srv)...)
	out, err := execute(t, append(args, "--config", path)...)
	require.Error(t, err)
	require.Contains(t, out, "missing image:      elsewhere.png")
	require.NotContains(t, out, "OK\n")
}
