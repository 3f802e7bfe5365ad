package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/gobdpan/bdpan/internal/utils"
)

var ErrLocked = errors.New("another bdpan invocation is working on this path")

// Lock is an exclusive lock on a local tree, held through a lock file
type Lock struct {
	target string
	flock  *flock.Flock
}

// NewLock returns the lock of localPath. Lock files live in lockDir.
func NewLock(lockDir, localPath string) (*Lock, error) {
	abs, err := utils.ResolvePath(localPath)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", localPath, err)
	}
	sum := sha256.Sum256([]byte(abs))
	name := hex.EncodeToString(sum[:8]) + ".lock"

	return &Lock{
		target: abs,
		flock:  flock.New(filepath.Join(lockDir, name)),
	}, nil
}

func (l *Lock) Path() string {
	return l.flock.Path()
}

// TryLock takes the lock without waiting
func (l *Lock) TryLock() error {
	if err := utils.EnsureParent(l.flock.Path()); err != nil {
		return fmt.Errorf("lock dir: %w", err)
	}

	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.target, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLocked, l.target)
	}
	return nil
}

func (l *Lock) Unlock() error {
	// only the holder removes the lock file
	if !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.target, err)
	}
	if err := os.Remove(l.flock.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
