// Package classify categorizes changed paths under a watched save folder.
//
// Save files follow the No Man's Sky slot layout: every file whose name
// contains "save" and ends in ".hg" is a save file. The digits in the name
// decide the kind of save. An odd number, or no number at all (save.hg,
// save3.hg, autosave.hg), is an autosave. An even number (save2.hg,
// save10.hg) is a manual restore point. Everything else is Other.
package classify

import (
	"path/filepath"
	"strings"
	"time"
)

// Category is the classification of a single changed path.
type Category int

const (
	// Ignored paths never reach the debouncer.
	Ignored Category = iota
	Autosave
	RestorePoint
	Other
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case Autosave:
		return "Autosave"
	case RestorePoint:
		return "RestorePoint"
	case Other:
		return "Other"
	default:
		return "Ignored"
	}
}

// Op is the filesystem operation behind a change.
type Op int

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// ChangeEvent is a classified change forwarded to the debouncer.
type ChangeEvent struct {
	// Path is relative to the watched root.
	Path      string
	Category  Category
	Op        Op
	Timestamp time.Time
}

// DefaultCacheDirNames are the directory names skipped when cache paths are ignored.
var DefaultCacheDirNames = []string{"cache"}

const saveExt = ".hg"

// Rules configures a Classifier.
type Rules struct {
	IgnoreCachePaths      bool
	CacheDirNames         []string
	TriggerOnAutosave     bool
	TriggerOnRestorePoint bool
	TriggerOnOther        bool
}

// Classifier maps relative paths to categories.
type Classifier struct {
	rules      Rules
	cacheNames map[string]bool
}

// New creates a Classifier for the given rules.
func New(rules Rules) *Classifier {
	names := rules.CacheDirNames
	if len(names) == 0 {
		names = DefaultCacheDirNames
	}

	cacheNames := make(map[string]bool, len(names))
	for _, n := range names {
		cacheNames[strings.ToLower(n)] = true
	}

	return &Classifier{rules: rules, cacheNames: cacheNames}
}

// Classify returns the category of rel, a path relative to the watched root.
func (c *Classifier) Classify(rel string) Category {
	if c.InCacheDir(rel) {
		return Ignored
	}

	name := strings.ToLower(filepath.Base(rel))
	if !IsSaveFile(name) {
		return Other
	}

	if digit, ok := lastDigit(name); ok && digit%2 == 0 {
		return RestorePoint
	}
	return Autosave
}

// Forward classifies rel and reports Ignored for categories whose trigger is disabled.
func (c *Classifier) Forward(rel string) Category {
	cat := c.Classify(rel)
	if !c.Enabled(cat) {
		return Ignored
	}
	return cat
}

// Enabled reports whether changes of the given category may trigger a backup.
func (c *Classifier) Enabled(cat Category) bool {
	switch cat {
	case Autosave:
		return c.rules.TriggerOnAutosave
	case RestorePoint:
		return c.rules.TriggerOnRestorePoint
	case Other:
		return c.rules.TriggerOnOther
	default:
		return false
	}
}

// InCacheDir reports whether any directory segment of rel is a cache directory.
// Always false when cache paths are not ignored.
func (c *Classifier) InCacheDir(rel string) bool {
	if !c.rules.IgnoreCachePaths {
		return false
	}

	for _, seg := range strings.Split(filepath.ToSlash(filepath.Clean(rel)), "/") {
		if c.cacheNames[strings.ToLower(seg)] {
			return true
		}
	}
	return false
}

// IsCacheDirName reports whether name is one of the configured cache directory names.
func (c *Classifier) IsCacheDirName(name string) bool {
	return c.rules.IgnoreCachePaths && c.cacheNames[strings.ToLower(name)]
}

// IsSaveFile reports whether a base name follows the save file naming pattern.
func IsSaveFile(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, saveExt) && strings.Contains(name, "save")
}

// lastDigit returns the final digit in name. The parity of the number formed
// by all digits equals the parity of its last digit, so long digit runs
// never overflow.
func lastDigit(name string) (int, bool) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] >= '0' && name[i] <= '9' {
			return int(name[i] - '0'), true
		}
	}
	return 0, false
}
