package cmdutil

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/atlas-archive/internal/config"
	"github.com/leefowlercu/atlas-archive/internal/controller"
)

// WatchFlags are the source/destination overrides shared by watch, backup,
// prune and list. Flags that were not set leave the config value alone.
type WatchFlags struct {
	Source      string
	Destination string
	MaxBackups  int
}

// Register adds --source, --dest and --max-backups to cmd.
func (f *WatchFlags) Register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.Source, "source", "s", "", "Save folder to back up (overrides watch.source)")
	cmd.Flags().StringVarP(&f.Destination, "dest", "d", "", "Folder that receives the archives (overrides watch.destination)")
	cmd.Flags().IntVarP(&f.MaxBackups, "max-backups", "n", 0, "Number of archives to keep (overrides watch.max_backups)")
}

// Apply copies the flags the user set onto cfg.
func (f *WatchFlags) Apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("source") {
		cfg.Watch.Source = f.Source
	}
	if cmd.Flags().Changed("dest") {
		cfg.Watch.Destination = f.Destination
	}
	if cmd.Flags().Changed("max-backups") {
		cfg.Watch.MaxBackups = f.MaxBackups
	}
}

// WatchConfig loads the current config, applies the flags and converts the
// result, resolving both paths to absolute form.
func (f *WatchFlags) WatchConfig(cmd *cobra.Command) (*config.Config, controller.WatchConfig, error) {
	cfg, err := config.Current()
	if err != nil {
		return nil, controller.WatchConfig{}, err
	}
	f.Apply(cmd, cfg)

	wc, err := ResolveWatchConfig(cfg)
	return cfg, wc, err
}

// ResolveWatchConfig converts cfg and makes both paths absolute.
func ResolveWatchConfig(cfg *config.Config) (controller.WatchConfig, error) {
	wc := cfg.ToWatchConfig()
	if wc.SourcePath == "" || wc.DestinationPath == "" {
		return wc, fmt.Errorf("%w: set watch.source and watch.destination or pass --source and --dest", controller.ErrConfiguration)
	}

	var err error
	if wc.SourcePath, err = ResolvePath(wc.SourcePath); err != nil {
		return wc, fmt.Errorf("failed to resolve source path; %w", err)
	}
	if wc.DestinationPath, err = ResolvePath(wc.DestinationPath); err != nil {
		return wc, fmt.Errorf("failed to resolve destination path; %w", err)
	}
	return wc, nil
}

// PipelineOptions returns the controller options derived from cfg.
func PipelineOptions(cfg *config.Config) []controller.Option {
	return []controller.Option{
		controller.WithCompressionLevel(cfg.Watch.CompressionLevel),
	}
}

// CheckMaxBackupsFlag rejects a --max-backups below 1.
func CheckMaxBackupsFlag(cmd *cobra.Command, n int) error {
	if cmd.Flags().Changed("max-backups") && n < 1 {
		return fmt.Errorf("--max-backups must be at least 1")
	}
	return nil
}
