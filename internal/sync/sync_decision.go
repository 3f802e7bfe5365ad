package sync

import (
	"fmt"
	"time"

	"github.com/gobdpan/bdpan/internal/storage"
	"github.com/gobdpan/bdpan/internal/transfer"
)

type Action string

const (
	ActionSkip      Action = "skip"
	ActionCreate    Action = "create" // destination does not exist yet
	ActionOverwrite Action = "overwrite"
	ActionDelete    Action = "delete"
	ActionMkdir     Action = "mkdir"
)

type Direction = transfer.Direction

const (
	Upload   = transfer.DirectionUpload
	Download = transfer.DirectionDownload
)

// LocalEntry is a local file or directory as seen at scan time
type LocalEntry struct {
	Path  string
	Mtime time.Time
	Size  int64
	IsDir bool
}

// Decision is one planned step. Path is on the destination side: a remote
// path for uploads, a local path for downloads.
type Decision struct {
	Action    Action
	Direction Direction
	Path      string
	Source    string
	IsDir     bool
	Local     *LocalEntry
	Remote    *storage.Entry
}

// IsTransfer reports whether the decision moves file content
func (d *Decision) IsTransfer() bool {
	return d.Action == ActionCreate || d.Action == ActionOverwrite
}

// Verb names the decision the way the CLI prints it
func (d *Decision) Verb() string {
	switch d.Action {
	case ActionCreate:
		return string(d.Direction)
	case ActionOverwrite:
		return string(d.Direction) + "!"
	case ActionDelete:
		if d.Direction == Upload {
			return "rm-remote"
		}
		return "rm-local"
	default:
		return string(d.Action)
	}
}

func (d Decision) String() string {
	if d.Source != "" && d.IsTransfer() {
		return fmt.Sprintf("%-10s %s <- %s", d.Verb(), d.Path, d.Source)
	}
	return fmt.Sprintf("%-10s %s", d.Verb(), d.Path)
}
