package classify

// Tag names the kind of backup an archive represents. It is embedded in the
// archive filename.
type Tag string

const (
	TagAutosave     Tag = "Autosave"
	TagRestorePoint Tag = "RestorePoint"
	TagGeneral      Tag = "General"
	TagUndelete     Tag = "Undelete"
	TagOther        Tag = "Other"
	TagManual       Tag = "Manual"
)

// Tags lists every recognized tag.
var Tags = []Tag{TagAutosave, TagRestorePoint, TagGeneral, TagUndelete, TagOther, TagManual}

// ParseTag returns the Tag named s.
func ParseTag(s string) (Tag, bool) {
	for _, t := range Tags {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// ResolveTag picks the tag for a batch of changes. A true deletion wins,
// then a mix of autosaves and restore points, then a single save kind.
func ResolveTag(seen map[Category]bool, trueDeletion bool) Tag {
	switch {
	case trueDeletion:
		return TagUndelete
	case seen[Autosave] && seen[RestorePoint]:
		return TagGeneral
	case seen[RestorePoint]:
		return TagRestorePoint
	case seen[Autosave]:
		return TagAutosave
	default:
		return TagOther
	}
}
