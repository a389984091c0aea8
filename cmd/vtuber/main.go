// Command vtuber runs the Nathy backend: the chat API, the voice WebSocket
// and the browser UI, plus a few maintenance subcommands.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"nathy/internal/config"
)

var defaultConfigFiles = []string{"nathy.yaml", "nathy.yml", "config.yaml", "config.json"}

// cli carries what every subcommand needs once flags are parsed.
type cli struct {
	configPath string
	cfg        config.Config
	logger     *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "vtuber",
		Short: "Nathy VTuber backend",
		Long: `Nathy is a Brazilian-Portuguese VTuber assistant.

Run without a subcommand to start the HTTP and WebSocket server.
Configuration comes from an optional YAML/JSON file and environment
variables such as OPENAI_API_KEY, LLM_PROVIDER and ELEVENLABS_API_KEY.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), c.cfg, c.logger)
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "",
		"path to a YAML or JSON config file (default $"+config.EnvConfigFile+")")

	root.AddCommand(newServeCmd(c), newFactsCmd(c))
	return root
}

func (c *cli) init() error {
	path, err := c.resolveConfigPath()
	if err != nil {
		return err
	}
	cfg, err := config.Loader{}.Load(path)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Server.Debug)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}

// resolveConfigPath honours --config, then VTUBER_CONFIG, then a config file
// in the working directory.
func (c *cli) resolveConfigPath() (string, error) {
	if c.configPath != "" {
		return c.configPath, nil
	}
	if _, ok := os.LookupEnv(config.EnvConfigFile); ok {
		return "", nil
	}
	path, err := config.FindFile(defaultConfigFiles...)
	if errors.Is(err, config.ErrNoConfigFile) {
		return "", nil
	}
	return path, err
}

// newLogger builds a JSON production logger, or a console logger at debug
// level when debug is set.
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		zc := zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zc.Build()
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	return zc.Build()
}
