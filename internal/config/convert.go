package config

import (
	"time"

	"github.com/leefowlercu/atlas-archive/internal/controller"
)

// ToWatchConfig converts the watch section into a session configuration,
// expanding ~ in both paths. The compression level is not part of it; pass
// it with controller.WithCompressionLevel.
func (c *Config) ToWatchConfig() controller.WatchConfig {
	w := c.Watch
	return controller.WatchConfig{
		SourcePath:            expandHome(w.Source),
		DestinationPath:       expandHome(w.Destination),
		MaxBackups:            w.MaxBackups,
		IgnoreCachePaths:      w.IgnoreCachePaths,
		CacheDirNames:         append([]string(nil), w.CacheDirNames...),
		TriggerOnAutosave:     w.TriggerOnAutosave,
		TriggerOnRestorePoint: w.TriggerOnRestorePoint,
		TriggerOnOther:        w.TriggerOnOther,
		DebounceWindow:        time.Duration(w.DebounceMs) * time.Millisecond,
		Verbose:               w.Verbose,
	}
}
