package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/richinsley/comfytryon/client"
	"github.com/richinsley/comfytryon/tryon"
	"github.com/spf13/cobra"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE.png",
	Short: "Show the settings a saved image was generated with",
	Args:  cobra.ExactArgs(1),
	// no configuration or server needed
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		prompt, err := client.GetPngPrompt(f)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		out := cmd.OutOrStdout()
		if inspectJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(prompt.Nodes)
		}

		s, err := tryon.Describe(prompt)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "seed:       %s\n", s.Seed)
		fmt.Fprintf(out, "steps:      %s\n", s.Steps)
		fmt.Fprintf(out, "cfg:        %s\n", s.CFG)
		fmt.Fprintf(out, "sampler:    %s %s\n", s.Sampler, s.Scheduler)
		fmt.Fprintf(out, "denoise:    %s\n", s.Denoise)
		fmt.Fprintf(out, "checkpoint: %s\n", s.Checkpoint)
		fmt.Fprintf(out, "image:      %s\n", s.Image)
		fmt.Fprintf(out, "prompt:     %s\n", s.Positive)
		fmt.Fprintf(out, "negative:   %s\n", s.Negative)
		return nil
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Print the embedded prompt as JSON")
}
