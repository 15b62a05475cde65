package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/richinsley/comfytryon/runner"
	"github.com/spf13/cobra"
)

var (
	runImage    string
	runCount    int
	runSeed     uint64
	runOutDir   string
	runPositive string
	runNegative string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate try-on images",
	Long: `Generate try-on images from a subject photo.

The photo may be a local file or data: URL, which is uploaded to the server,
or the name of an image already in the server's input folder.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		p := cfg.Pipeline
		if flags.Changed("prompt") {
			p.Positive = runPositive
		}
		if flags.Changed("negative") {
			p.Negative = runNegative
		}
		count := cfg.Count
		if flags.Changed("count") {
			if runCount < 1 {
				return fmt.Errorf("count must be at least 1, got %d", runCount)
			}
			count = runCount
		}
		outDir := cfg.OutputDir
		if flags.Changed("out") {
			outDir = runOutDir
		}

		env, err := loadEnv()
		if err != nil {
			return err
		}
		c := newClient()
		defer c.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		r := runner.New(c, env)
		results, err := r.Run(ctx, runner.Request{
			Params:    p,
			Image:     runImage,
			Count:     count,
			Seed:      runSeed,
			OutputDir: outDir,
		})
		for _, res := range results {
			for _, f := range res.Files {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tseed=%d\tprompt=%s\n", f, res.Seed, res.PromptID)
			}
		}
		return err
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runImage, "image", "i", "", "Subject photo: local path, data: URL or server input name")
	f.IntVarP(&runCount, "count", "n", 1, "Number of images to generate")
	f.Uint64Var(&runSeed, "seed", 0, "Sampler seed of the first image (default: random per image)")
	f.StringVarP(&runOutDir, "out", "o", "output", "Directory the images are saved to")
	f.StringVarP(&runPositive, "prompt", "p", "", "Outfit description")
	f.StringVar(&runNegative, "negative", "", "Negative prompt")
}
