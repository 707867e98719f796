package controller

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/leefowlercu/atlas-archive/internal/classify"
	"github.com/leefowlercu/atlas-archive/internal/watcher"
)

var (
	// ErrConfiguration is returned by Start and the one-shot operations when
	// the WatchConfig cannot be used.
	ErrConfiguration = errors.New("invalid watch configuration")

	// ErrWatchFailure ends a session: the source disappeared or the native
	// watch failed.
	ErrWatchFailure = errors.New("watch failure")

	// ErrAlreadyRunning is returned by Start when a session is active.
	ErrAlreadyRunning = errors.New("watch session already running")
)

// WatchConfig is the immutable configuration of one watch session.
type WatchConfig struct {
	SourcePath      string `validate:"required"`
	DestinationPath string `validate:"required"`
	MaxBackups      int    `validate:"min=1"`

	IgnoreCachePaths bool
	CacheDirNames    []string `validate:"dive,required,excludesall=/"`

	TriggerOnAutosave     bool
	TriggerOnRestorePoint bool
	TriggerOnOther        bool

	DebounceWindow time.Duration `validate:"gt=0"`

	// Verbose reports every classified change to the status sink.
	Verbose bool
}

// DefaultWatchConfig returns a config with every trigger enabled and the
// default quiet period. Paths must still be set.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		MaxBackups:            10,
		IgnoreCachePaths:      true,
		CacheDirNames:         append([]string(nil), classify.DefaultCacheDirNames...),
		TriggerOnAutosave:     true,
		TriggerOnRestorePoint: true,
		TriggerOnOther:        true,
		DebounceWindow:        watcher.DefaultDebounceWindow,
	}
}

var validate = validator.New()

// Validate checks field constraints and that the destination differs from
// the source. Errors wrap ErrConfiguration.
func (c WatchConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, describe(e))
		}
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(msgs, "; "))
	}

	src, err := filepath.Abs(c.SourcePath)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve source path; %v", ErrConfiguration, err)
	}
	dst, err := filepath.Abs(c.DestinationPath)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve destination path; %v", ErrConfiguration, err)
	}
	if src == dst {
		return fmt.Errorf("%w: destination must differ from source", ErrConfiguration)
	}

	return nil
}

// CheckSource returns an ErrConfiguration unless path is an existing folder.
func CheckSource(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve source path; %v", ErrConfiguration, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: source folder %s does not exist", ErrConfiguration, abs)
	}
	return nil
}

// Rules returns the classifier rules for this config.
func (c WatchConfig) Rules() classify.Rules {
	return classify.Rules{
		IgnoreCachePaths:      c.IgnoreCachePaths,
		CacheDirNames:         c.CacheDirNames,
		TriggerOnAutosave:     c.TriggerOnAutosave,
		TriggerOnRestorePoint: c.TriggerOnRestorePoint,
		TriggerOnOther:        c.TriggerOnOther,
	}
}

// SourceName is the name embedded in archive filenames.
func (c WatchConfig) SourceName() string {
	abs, err := filepath.Abs(c.SourcePath)
	if err != nil {
		return filepath.Base(c.SourcePath)
	}
	return filepath.Base(abs)
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s must not be empty", e.Namespace())
	case "min":
		return fmt.Sprintf("%s must be at least %s, got %v", e.Namespace(), e.Param(), e.Value())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s, got %v", e.Namespace(), e.Param(), e.Value())
	case "excludesall":
		return fmt.Sprintf("%s must be a plain directory name, got %q", e.Namespace(), e.Value())
	default:
		return fmt.Sprintf("%s failed rule '%s' (value: '%v')", e.Namespace(), e.Tag(), e.Value())
	}
}
