package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/richinsley/comfytryon/client"
	"golang.org/x/sync/errgroup"
)

const maxConcurrentDownloads = 4

// outputPath places an output under dir, keeping its server subfolder.  Outputs
// that are not in the server's output folder go under a directory named by their type.
func outputPath(dir string, output client.DataOutput) string {
	rel := filepath.Join(filepath.FromSlash(path.Clean("/"+output.Subfolder)), filepath.Base(output.Filename))
	if output.Type != "" && output.Type != "output" {
		rel = filepath.Join(filepath.Base(output.Type), rel)
	}
	return filepath.Join(dir, rel)
}

// download fetches the outputs into dir concurrently and returns their local paths
// in the order the server reported them
func (r *Runner) download(ctx context.Context, outputs []client.DataOutput, dir string) ([]string, error) {
	files := make([]string, len(outputs))
	// an output reported twice is fetched once
	repeated := make([]bool, len(outputs))
	seen := make(map[string]string, len(outputs))
	for i, output := range outputs {
		files[i] = outputPath(dir, output)
		key := output.Type + ":" + output.Subfolder + "/" + output.Filename
		if prev, ok := seen[files[i]]; ok {
			if prev != key {
				return nil, fmt.Errorf("outputs %s and %s would both be saved to %s", prev, key, files[i])
			}
			repeated[i] = true
			continue
		}
		seen[files[i]] = key
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDownloads)
	for i, output := range outputs {
		if repeated[i] {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := r.Client.GetImage(output)
			if err != nil {
				return fmt.Errorf("failed to get %s: %w", output.Filename, err)
			}
			if err := os.MkdirAll(filepath.Dir(files[i]), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(files[i], *data, 0o644); err != nil {
				return fmt.Errorf("failed to write image: %w", err)
			}
			slog.Info("Saved output", "path", files[i], "bytes", len(*data))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}
