package main

import (
	"errors"
	"fmt"

	"github.com/richinsley/comfytryon/runner"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the server and local installation can run the pipeline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		env, err := loadEnv()
		if err != nil {
			return err
		}
		if env.HasRoot() {
			fmt.Fprintf(out, "ComfyUI root:       %s\n", env.Root)
		} else {
			fmt.Fprintln(out, "ComfyUI root:       not found")
		}
		if env.ExtraConfig != "" {
			fmt.Fprintf(out, "Extra model paths:  %s\n", env.ExtraConfig)
			for folder, paths := range env.Extra {
				for _, p := range paths {
					fmt.Fprintf(out, "  %-16s  %s\n", folder, p.Path)
				}
			}
		}

		c := newClient()
		defer c.Close()
		rep, err := runner.New(c, env).Check(cfg.Pipeline)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Server:             %s:%d (ComfyUI %s, python %s)\n",
			cfg.Server.Address, cfg.Server.Port, rep.Stats.System.ComfyUIVersion, rep.Stats.System.PythonVersion)
		for _, d := range rep.Stats.Devices {
			fmt.Fprintf(out, "  device %d:         %s (%d MiB free)\n", d.Index, d.Name, d.VRAM_Free>>20)
		}
		for _, n := range rep.MissingNodes {
			fmt.Fprintf(out, "missing node:       %s\n", n)
		}
		if cfg.Pipeline.PosePreprocessor != "" && !rep.HasPreprocessor {
			fmt.Fprintf(out, "missing node:       %s (optional, the photo is used as the pose map)\n", cfg.Pipeline.PosePreprocessor)
		}
		for _, m := range rep.MissingModels {
			fmt.Fprintf(out, "missing on server:  %s\n", m)
		}
		for _, m := range rep.MissingLocal {
			fmt.Fprintf(out, "missing locally:    %s\n", m)
		}
		if !rep.ImageAvailable {
			fmt.Fprintf(out, "missing image:      %s\n", cfg.Pipeline.Image)
		}

		if !rep.OK() {
			return errors.New("the pipeline cannot run on this server")
		}
		fmt.Fprintln(out, "OK")
		return nil
	},
}
