package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-git/go-billy/v5"
	"github.com/gobdpan/bdpan/internal/lister"
	"github.com/gobdpan/bdpan/internal/panerr"
	"github.com/gobdpan/bdpan/internal/storage"
	"github.com/gobdpan/bdpan/internal/transfer"
)

type PlannerOptions struct {
	Overwrite   transfer.OverwritePolicy
	MtimeRule   transfer.MtimeRule
	DeleteExtra bool
	Ignore      *IgnoreList
	Logger      *slog.Logger
}

// Planner compares a local tree with a remote one and produces the
// decisions that make the destination match the source. Planning reads
// both sides but changes neither.
type Planner struct {
	store  storage.Storage
	lister *lister.Lister
	fsys   billy.Filesystem
	opts   PlannerOptions
	logger *slog.Logger
}

func NewPlanner(store storage.Storage, l *lister.Lister, fsys billy.Filesystem, opts PlannerOptions) *Planner {
	if opts.Overwrite == "" {
		opts.Overwrite = transfer.OverwriteNone
	}
	if opts.MtimeRule == "" {
		opts.MtimeRule = transfer.MtimeNewer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{store: store, lister: l, fsys: fsys, opts: opts, logger: logger}
}

// WithoutDelete returns a planner sharing p's settings with delete-extra off
func (p *Planner) WithoutDelete() *Planner {
	c := *p
	c.opts.DeleteExtra = false
	return &c
}

func (p *Planner) Options() PlannerOptions {
	return p.opts
}

// PlanUpload plans copying localPath to remotePath.
func (p *Planner) PlanUpload(ctx context.Context, localPath, remotePath string) ([]Decision, error) {
	remotePath = storage.CleanPath(remotePath)

	info, err := p.fsys.Stat(localPath)
	if err != nil {
		return nil, panerr.NewIoError("stat", localPath, err)
	}

	remote, err := p.meta(ctx, remotePath)
	if err != nil {
		return nil, err
	}

	var plan []Decision
	if !info.IsDir() {
		target := remotePath
		if remote != nil && remote.IsDir {
			target = storage.Join(remotePath, info.Name())
			if remote, err = p.meta(ctx, target); err != nil {
				return nil, err
			}
		}
		local := localEntry(localPath, info)
		d, err := p.uploadDecision(local, remote, target)
		if err != nil {
			return nil, err
		}
		return append(plan, d), nil
	}

	if remote != nil && !remote.IsDir {
		return nil, panerr.NewConflictError(remotePath, "remote path is a file, local path is a directory")
	}
	if err := p.planUploadDir(ctx, localPath, remotePath, "", remote != nil, &plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (p *Planner) planUploadDir(ctx context.Context, localDir, remoteDir, rel string, exists bool, plan *[]Decision) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	*plan = append(*plan, Decision{
		Action:    ActionMkdir,
		Direction: Upload,
		Path:      remoteDir,
		Source:    localDir,
		IsDir:     true,
	})

	var remoteEntries []*storage.Entry
	if exists {
		entries, err := p.lister.List(ctx, remoteDir, true)
		if err != nil {
			return err
		}
		remoteEntries = entries
	}
	byName := make(map[string]*storage.Entry, len(remoteEntries))
	for _, e := range remoteEntries {
		byName[e.Name()] = e
	}

	files, dirs, names, err := p.readLocalDir(localDir)
	if err != nil {
		return err
	}

	localNames := mapset.NewThreadUnsafeSet(names...)
	for _, f := range files {
		if p.opts.Ignore.ShouldIgnore(path.Join(rel, f.Name())) {
			continue
		}
		d, err := p.uploadDecision(localEntry(p.fsys.Join(localDir, f.Name()), f), byName[f.Name()], storage.Join(remoteDir, f.Name()))
		if err != nil {
			return err
		}
		*plan = append(*plan, d)
	}

	for _, dir := range dirs {
		childRel := path.Join(rel, dir.Name())
		if p.opts.Ignore.ShouldIgnore(childRel) {
			continue
		}
		child := byName[dir.Name()]
		childRemote := storage.Join(remoteDir, dir.Name())
		if child != nil && !child.IsDir {
			return panerr.NewConflictError(childRemote, "remote path is a file, local path is a directory")
		}
		if err := p.planUploadDir(ctx, p.fsys.Join(localDir, dir.Name()), childRemote, childRel, child != nil, plan); err != nil {
			return err
		}
	}

	if !p.opts.DeleteExtra {
		return nil
	}
	for _, e := range remoteEntries {
		if localNames.Contains(e.Name()) || p.opts.Ignore.ShouldIgnore(path.Join(rel, e.Name())) {
			continue
		}
		*plan = append(*plan, Decision{
			Action:    ActionDelete,
			Direction: Upload,
			Path:      e.Path,
			IsDir:     e.IsDir,
			Remote:    e,
		})
	}
	return nil
}

func (p *Planner) uploadDecision(local *LocalEntry, remote *storage.Entry, target string) (Decision, error) {
	d := Decision{
		Action:    ActionCreate,
		Direction: Upload,
		Path:      target,
		Source:    local.Path,
		Local:     local,
		Remote:    remote,
	}
	if remote == nil {
		return d, nil
	}
	if remote.IsDir {
		return d, panerr.NewConflictError(target, "remote path is a directory, local path is a file")
	}

	d.Action = ActionSkip
	if transfer.ShouldReplace(p.opts.Overwrite, p.opts.MtimeRule, local.Mtime, remote.Mtime) {
		d.Action = ActionOverwrite
	}
	return d, nil
}

// PlanDownload plans copying remotePath to localPath.
func (p *Planner) PlanDownload(ctx context.Context, remotePath, localPath string) ([]Decision, error) {
	remotePath = storage.CleanPath(remotePath)

	remote, err := p.meta(ctx, remotePath)
	if err != nil {
		return nil, err
	}
	if remote == nil {
		return nil, fmt.Errorf("download %s: %w", remotePath, panerr.NewNotFoundError(remotePath))
	}

	local, err := p.localStat(localPath)
	if err != nil {
		return nil, err
	}

	var plan []Decision
	if !remote.IsDir {
		target := localPath
		if local != nil && local.IsDir {
			target = p.fsys.Join(localPath, remote.Name())
			if local, err = p.localStat(target); err != nil {
				return nil, err
			}
		}
		d, err := p.downloadDecision(remote, local, target)
		if err != nil {
			return nil, err
		}
		return append(plan, d), nil
	}

	if local != nil && !local.IsDir {
		return nil, panerr.NewConflictError(localPath, "local path is a file, remote path is a directory")
	}
	if err := p.planDownloadDir(ctx, remotePath, localPath, "", local != nil, &plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (p *Planner) planDownloadDir(ctx context.Context, remoteDir, localDir, rel string, exists bool, plan *[]Decision) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	*plan = append(*plan, Decision{
		Action:    ActionMkdir,
		Direction: Download,
		Path:      localDir,
		Source:    remoteDir,
		IsDir:     true,
	})

	remoteEntries, err := p.lister.List(ctx, remoteDir, true)
	if err != nil {
		return err
	}

	localByName := map[string]*LocalEntry{}
	var localOrder []*LocalEntry
	if exists {
		files, dirs, _, err := p.readLocalDir(localDir)
		if err != nil {
			return err
		}
		for _, info := range append(files, dirs...) {
			le := localEntry(p.fsys.Join(localDir, info.Name()), info)
			localByName[info.Name()] = le
			localOrder = append(localOrder, le)
		}
	}

	remoteNames := mapset.NewThreadUnsafeSet[string]()
	remoteFiles := mapset.NewThreadUnsafeSet[string]()
	var subdirs []*storage.Entry
	for _, e := range remoteEntries {
		remoteNames.Add(e.Name())
		if !e.IsDir {
			remoteFiles.Add(e.Name())
		}
		if p.opts.Ignore.ShouldIgnore(path.Join(rel, e.Name())) {
			continue
		}
		if e.IsDir {
			subdirs = append(subdirs, e)
			continue
		}
		d, err := p.downloadDecision(e, localByName[e.Name()], p.fsys.Join(localDir, e.Name()))
		if err != nil {
			return err
		}
		*plan = append(*plan, d)
	}

	for _, e := range subdirs {
		child := localByName[e.Name()]
		childLocal := p.fsys.Join(localDir, e.Name())
		if child != nil && !child.IsDir {
			return panerr.NewConflictError(childLocal, "local path is a file, remote path is a directory")
		}
		if err := p.planDownloadDir(ctx, e.Path, childLocal, path.Join(rel, e.Name()), child != nil, plan); err != nil {
			return err
		}
	}

	if !p.opts.DeleteExtra {
		return nil
	}
	for _, le := range localOrder {
		name := filepath.Base(le.Path)
		if remoteNames.Contains(name) || p.opts.Ignore.ShouldIgnore(path.Join(rel, name)) {
			continue
		}
		// resume artifact of a file still being downloaded
		if base, ok := strings.CutSuffix(name, transfer.PartialSuffix); ok && !le.IsDir && remoteFiles.Contains(base) {
			continue
		}
		*plan = append(*plan, Decision{
			Action:    ActionDelete,
			Direction: Download,
			Path:      le.Path,
			IsDir:     le.IsDir,
			Local:     le,
		})
	}
	return nil
}

func (p *Planner) downloadDecision(remote *storage.Entry, local *LocalEntry, target string) (Decision, error) {
	d := Decision{
		Action:    ActionCreate,
		Direction: Download,
		Path:      target,
		Source:    remote.Path,
		Local:     local,
		Remote:    remote,
	}
	if local == nil {
		return d, nil
	}
	if local.IsDir {
		return d, panerr.NewConflictError(target, "local path is a directory, remote path is a file")
	}

	d.Action = ActionSkip
	if transfer.ShouldReplace(p.opts.Overwrite, p.opts.MtimeRule, remote.Mtime, local.Mtime) {
		d.Action = ActionOverwrite
	}
	return d, nil
}

// meta returns nil for a missing remote path
func (p *Planner) meta(ctx context.Context, remotePath string) (*storage.Entry, error) {
	e, err := p.store.Meta(ctx, remotePath)
	if panerr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("meta %s: %w", remotePath, err)
	}
	return e, nil
}

func (p *Planner) localStat(name string) (*LocalEntry, error) {
	info, err := p.fsys.Stat(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, panerr.NewIoError("stat", name, err)
	}
	return localEntry(name, info), nil
}

// readLocalDir splits a directory into files and subdirectories, each sorted
// by name. Links to files are followed; links to directories are listed in
// names but not descended into. names holds every entry of the directory,
// including the ones that are neither files nor directories.
func (p *Planner) readLocalDir(dir string) (files, dirs []os.FileInfo, names []string, err error) {
	infos, err := p.fsys.ReadDir(dir)
	if err != nil {
		return nil, nil, nil, panerr.NewIoError("readdir", dir, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	for _, info := range infos {
		names = append(names, info.Name())
		name := p.fsys.Join(dir, info.Name())

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := p.fsys.Stat(name)
			if err != nil {
				p.logger.Warn("skipping unresolvable link", "path", name, "error", err)
				continue
			}
			if target.IsDir() {
				p.logger.Debug("not following directory link", "path", name)
				continue
			}
			info = target
		}

		switch {
		case info.IsDir():
			dirs = append(dirs, info)
		case info.Mode().IsRegular():
			files = append(files, info)
		default:
			p.logger.Debug("skipping special file", "path", name, "mode", info.Mode())
		}
	}
	return files, dirs, names, nil
}

func localEntry(name string, info os.FileInfo) *LocalEntry {
	return &LocalEntry{
		Path:  name,
		Mtime: info.ModTime(),
		Size:  info.Size(),
		IsDir: info.IsDir(),
	}
}
