// Package sync reconciles a local tree with a remote one. A Planner diffs
// both sides into a list of decisions and an Executor applies them.
package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gobdpan/bdpan/internal/panerr"
)

// Runner plans and executes whole passes
type Runner struct {
	planner  *Planner
	executor *Executor
	logger   *slog.Logger
}

func NewRunner(planner *Planner, executor *Executor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{planner: planner, executor: executor, logger: logger}
}

// Upload makes remotePath match localPath
func (r *Runner) Upload(ctx context.Context, localPath, remotePath string) (*Report, error) {
	plan, err := r.planner.PlanUpload(ctx, localPath, remotePath)
	if err != nil {
		return nil, fmt.Errorf("plan upload: %w", err)
	}
	r.logPlan("upload", plan)
	return r.executor.Execute(ctx, plan)
}

// Download makes localPath match remotePath
func (r *Runner) Download(ctx context.Context, remotePath, localPath string) (*Report, error) {
	plan, err := r.planner.PlanDownload(ctx, remotePath, localPath)
	if err != nil {
		return nil, fmt.Errorf("plan download: %w", err)
	}
	r.logPlan("download", plan)
	return r.executor.Execute(ctx, plan)
}

// Sync runs a download pass followed by an upload pass, neither deleting
// anything. A missing remote side skips the download pass.
func (r *Runner) Sync(ctx context.Context, localPath, remotePath string) (*Report, error) {
	planner := r.planner.WithoutDelete()
	total := &Report{}

	down, err := planner.PlanDownload(ctx, remotePath, localPath)
	switch {
	case panerr.IsNotFound(err):
		r.logger.Info("remote path missing, skipping download pass", "path", remotePath)
	case err != nil:
		return nil, fmt.Errorf("plan download: %w", err)
	default:
		r.logPlan("download", down)
		rep, err := r.executor.Execute(ctx, down)
		total.Merge(rep)
		if err != nil {
			return total, err
		}
	}

	up, err := planner.PlanUpload(ctx, localPath, remotePath)
	if err != nil {
		return total, fmt.Errorf("plan upload: %w", err)
	}
	r.logPlan("upload", up)
	rep, err := r.executor.Execute(ctx, up)
	total.Merge(rep)
	return total, err
}

func (r *Runner) logPlan(pass string, plan []Decision) {
	counts := map[Action]int{}
	for _, d := range plan {
		counts[d.Action]++
	}
	r.logger.Info("planned", "pass", pass,
		"create", counts[ActionCreate],
		"overwrite", counts[ActionOverwrite],
		"skip", counts[ActionSkip],
		"delete", counts[ActionDelete],
		"mkdir", counts[ActionMkdir],
	)
}
