package archive

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/leefowlercu/atlas-archive/internal/classify"
)

const (
	// Ext is the archive file extension.
	Ext = ".zip"

	// TimeLayout is the timestamp prefix of every archive name.
	TimeLayout = "2006-01-02_15-04-05"

	tempPattern = ".atlas-*.zip.tmp"
)

// Record describes an archive in the destination directory. The directory
// listing is the record set; nothing else is persisted.
type Record struct {
	Path      string
	Name      string
	Source    string
	Tag       classify.Tag
	CreatedAt time.Time
	// Seq is the collision counter, 0 for the first archive in a second.
	Seq  int
	Size int64
}

// FileName returns the archive name for source and tag created at t.
// A non-zero seq is appended as "-N" before the extension.
func FileName(source string, tag classify.Tag, t time.Time, seq int) string {
	name := t.Format(TimeLayout) + "_" + source + "_" + string(tag)
	if seq > 0 {
		name += "-" + strconv.Itoa(seq)
	}
	return name + Ext
}

// Parse recognizes an archive name produced for source. Names with unknown
// tags, foreign sources or malformed timestamps are rejected.
func Parse(name, source string) (Record, error) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, Ext) {
		return Record{}, fmt.Errorf("not an archive: %s", base)
	}
	stem := strings.TrimSuffix(base, Ext)

	if len(stem) < len(TimeLayout)+1 || stem[len(TimeLayout)] != '_' {
		return Record{}, fmt.Errorf("missing timestamp: %s", base)
	}

	created, err := time.ParseInLocation(TimeLayout, stem[:len(TimeLayout)], time.Local)
	if err != nil {
		return Record{}, fmt.Errorf("invalid timestamp in %s; %w", base, err)
	}

	rest := stem[len(TimeLayout)+1:]
	prefix := source + "_"
	if !strings.HasPrefix(rest, prefix) {
		return Record{}, fmt.Errorf("archive %s does not belong to source %q", base, source)
	}
	rest = strings.TrimPrefix(rest, prefix)

	seq := 0
	if i := strings.LastIndexByte(rest, '-'); i >= 0 {
		n, err := strconv.Atoi(rest[i+1:])
		if err != nil || n <= 0 {
			return Record{}, fmt.Errorf("invalid sequence in %s", base)
		}
		seq = n
		rest = rest[:i]
	}

	tag, ok := classify.ParseTag(rest)
	if !ok {
		return Record{}, fmt.Errorf("unknown tag %q in %s", rest, base)
	}

	return Record{
		Path:      name,
		Name:      base,
		Source:    source,
		Tag:       tag,
		CreatedAt: created,
		Seq:       seq,
	}, nil
}

// IsTemp reports whether name is an in-progress archive written by a Builder.
func IsTemp(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".atlas-") && strings.HasSuffix(base, ".zip.tmp")
}

// SettleRepeatedHour resolves a name time that falls in the hour repeated
// when clocks go back. Both instants share one name, so the one closer to
// modTime (the archive file's modification time) is returned. Other times
// are returned unchanged.
func SettleRepeatedHour(created, modTime time.Time) time.Time {
	best := created
	stamp := created.Format(TimeLayout)
	for _, d := range []time.Duration{-time.Hour, time.Hour} {
		alt := created.Add(d)
		if alt.Format(TimeLayout) != stamp {
			continue
		}
		if modTime.Sub(alt).Abs() < modTime.Sub(best).Abs() {
			best = alt
		}
	}
	return best
}
