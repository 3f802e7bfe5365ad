// Package session keeps the credentials of the signed-in user and guards a
// local tree against concurrent invocations.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/gobdpan/bdpan/internal/utils"
)

var (
	home, _ = os.UserHomeDir()

	// DefaultDir holds the session file and invocation locks
	DefaultDir = filepath.Join(home, ".bdpan")

	DefaultPath = filepath.Join(DefaultDir, "session.json")

	ErrNoSession = errors.New("no session: run with --access-token once to sign in")
)

// Session is the state persisted between invocations
type Session struct {
	AccessToken string    `json:"access_token"`
	AppID       string    `json:"app_id,omitempty"`
	DeviceID    string    `json:"device_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Session) Validate() error {
	if s.AccessToken == "" {
		return ErrNoSession
	}
	return nil
}

// Provider supplies the session to the transport. The core only reads it.
type Provider interface {
	Load() (*Session, error)
	Save(s *Session) error
	Remove() error
}

// FileProvider stores the session as a JSON file
type FileProvider struct {
	path string
}

var _ Provider = (*FileProvider)(nil)

func NewFileProvider(path string) (*FileProvider, error) {
	if path == "" {
		path = DefaultPath
	}
	resolved, err := utils.ResolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolve session path %s: %w", path, err)
	}
	return &FileProvider{path: resolved}, nil
}

func (p *FileProvider) Path() string {
	return p.path
}

// Load reads the session file. A missing file is ErrNoSession.
func (p *FileProvider) Load() (*Session, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", p.path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Save writes the session readable by the owner only
func (p *FileProvider) Save(s *Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if err := utils.EnsureParent(p.path); err != nil {
		return fmt.Errorf("session dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, p.path)
}

// Remove deletes the session file. Removing a missing session is not an error.
func (p *FileProvider) Remove() error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// Resolve returns the stored session, replacing it first when token is set
func Resolve(p Provider, token, appID, deviceID string) (*Session, error) {
	if token == "" {
		return p.Load()
	}

	s := &Session{AccessToken: token, AppID: appID, DeviceID: deviceID}
	if err := p.Save(s); err != nil {
		return nil, err
	}
	return s, nil
}
