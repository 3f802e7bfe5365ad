package transfer

import (
	"fmt"
	"time"
)

// OverwritePolicy controls what happens to an existing destination file.
type OverwritePolicy string

const (
	// OverwriteNone never replaces an existing destination
	OverwriteNone OverwritePolicy = "none"
	// OverwriteMtime replaces the destination when the mtime rule says so
	OverwriteMtime OverwritePolicy = "mtime"
	// OverwriteForce always replaces the destination
	OverwriteForce OverwritePolicy = "force"
)

func ParseOverwritePolicy(s string) (OverwritePolicy, error) {
	switch p := OverwritePolicy(s); p {
	case OverwriteNone, OverwriteMtime, OverwriteForce:
		return p, nil
	case "":
		return OverwriteNone, nil
	default:
		return "", fmt.Errorf("invalid overwrite policy %q, want one of none, mtime, force", s)
	}
}

// MtimeRule compares source and destination mtimes for OverwriteMtime.
// Times are compared at second precision.
type MtimeRule string

const (
	// MtimeNewer replaces when the source is strictly newer
	MtimeNewer MtimeRule = "newer"
	// MtimeDiffer replaces when the mtimes differ
	MtimeDiffer MtimeRule = "differ"
)

func ParseMtimeRule(s string) (MtimeRule, error) {
	switch r := MtimeRule(s); r {
	case MtimeNewer, MtimeDiffer:
		return r, nil
	case "":
		return MtimeNewer, nil
	default:
		return "", fmt.Errorf("invalid mtime rule %q, want newer or differ", s)
	}
}

// Replace reports whether a destination with mtime dst should be replaced
// by a source with mtime src.
func (r MtimeRule) Replace(src, dst time.Time) bool {
	if r == MtimeDiffer {
		return src.Unix() != dst.Unix()
	}
	return src.Unix() > dst.Unix()
}

// ShouldReplace applies policy to an existing destination.
func ShouldReplace(policy OverwritePolicy, rule MtimeRule, src, dst time.Time) bool {
	switch policy {
	case OverwriteForce:
		return true
	case OverwriteMtime:
		return rule.Replace(src, dst)
	default:
		return false
	}
}
