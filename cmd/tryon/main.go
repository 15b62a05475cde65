// Command tryon runs the garment try-on pipeline on a ComfyUI server.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/richinsley/comfytryon/client"
	"github.com/richinsley/comfytryon/comfyenv"
	"github.com/richinsley/comfytryon/config"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	configPath string
	comfyRoot  string
	scheme     string
	address    string
	port       int
	timeout    int
	retry      int

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tryon",
	Short: "Garment try-on with ComfyUI",
	Long: `tryon re-renders a photo of a person wearing the outfit described by a text
prompt, keeping their pose.  The work is done by a ComfyUI server: tryon builds
the pipeline from the server's node registry, queues it and saves the results.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		applyServerFlags(cmd)
		return cfg.Validate()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVarP(&configPath, "config", "c", "tryon.yaml", "Configuration file")
	pf.StringVar(&comfyRoot, "comfy-root", "", "Local ComfyUI directory used for model checks (default: search parent directories)")
	pf.StringVar(&scheme, "scheme", "http", "Server scheme (http or https)")
	pf.StringVar(&address, "address", "127.0.0.1", "Server address")
	pf.IntVar(&port, "port", 8188, "Server port")
	pf.IntVar(&timeout, "timeout", 30, "Seconds to wait for the websocket connection, <0 waits forever")
	pf.IntVar(&retry, "retry", 5, "Websocket connection retries")

	rootCmd.AddCommand(runCmd, checkCmd, inspectCmd, configCmd)
}

// applyServerFlags lets explicitly set flags override the configuration file
func applyServerFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("scheme") {
		cfg.Server.Scheme = scheme
	}
	if flags.Changed("address") {
		cfg.Server.Address = address
	}
	if flags.Changed("port") {
		cfg.Server.Port = port
	}
	if flags.Changed("timeout") {
		cfg.Server.Timeout = timeout
	}
	if flags.Changed("retry") {
		cfg.Server.Retry = retry
	}
	if flags.Changed("comfy-root") {
		cfg.ComfyUIRoot = comfyRoot
	}
}

func newClient() *client.ComfyClient {
	s := cfg.Server
	return client.NewComfyClientWithTimeout(s.Scheme, s.Address, s.Port, nil, s.Timeout, s.Retry)
}

// loadEnv finds the local ComfyUI installation, if there is one
func loadEnv() (*comfyenv.Env, error) {
	if cfg.ComfyUIRoot != "" {
		return comfyenv.NewEnv(cfg.ComfyUIRoot, cfg.ExtraModelPaths)
	}
	env, err := comfyenv.Discover("")
	if err != nil {
		return nil, err
	}
	if cfg.ExtraModelPaths != "" {
		paths, err := comfyenv.LoadExtraModelPaths(cfg.ExtraModelPaths)
		if err != nil {
			return nil, fmt.Errorf("load extra model paths: %w", err)
		}
		env.ExtraConfig = cfg.ExtraModelPaths
		env.Extra = paths
	}
	return env, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
