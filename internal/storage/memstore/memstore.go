// Package memstore is an in-memory storage.Storage. It keeps a content
// index for rapid uploads and counts every call, which makes it the backend
// of choice for tests and the development server.
package memstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobdpan/bdpan/internal/panerr"
	"github.com/gobdpan/bdpan/internal/storage"
	"github.com/google/uuid"
)

type Op string

const (
	OpMeta       Op = "meta"
	OpList       Op = "list"
	OpPrecreate  Op = "precreate"
	OpUploadPart Op = "upload_part"
	OpFinalize   Op = "finalize"
	OpMkdir      Op = "mkdir"
	OpDelete     Op = "delete"
	OpDownload   Op = "download"
)

type node struct {
	entry storage.Entry
	data  []byte
}

type upload struct {
	path     string
	manifest *storage.Manifest
	parts    [][]byte
}

type fault struct {
	remaining int
	err       error
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	nodes   map[string]*node
	content map[string][]byte // content md5 -> data
	uploads map[string]*upload
	calls   map[Op]int
	faults  map[Op]*fault
	pathErr map[Op]map[string]error
	nextID  uint64

	bytesUp   int64
	bytesDown int64

	// IgnoreRange makes Download serve from byte 0 regardless of the offset
	IgnoreRange bool
}

var _ storage.Storage = (*Store)(nil)

func New() *Store {
	s := &Store{
		nodes:   make(map[string]*node),
		content: make(map[string][]byte),
		uploads: make(map[string]*upload),
		calls:   make(map[Op]int),
		faults:  make(map[Op]*fault),
		pathErr: make(map[Op]map[string]error),
	}
	s.nodes["/"] = &node{entry: storage.Entry{Path: "/", IsDir: true}}
	return s
}

// Calls returns how many times op was invoked
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// TotalCalls sums the counters of all operations
func (s *Store) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// BytesUploaded is the number of part bytes received
func (s *Store) BytesUploaded() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesUp
}

// BytesDownloaded is the number of bytes served by Download
func (s *Store) BytesDownloaded() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesDown
}

// ResetCalls zeroes the call and byte counters
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[Op]int)
	s.bytesUp = 0
	s.bytesDown = 0
}

// FailNext makes the next n calls of op return err
func (s *Store) FailNext(op Op, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &fault{remaining: n, err: err}
}

// FailOn makes every call of op on path p return err
func (s *Store) FailOn(op Op, p string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pathErr[op] == nil {
		s.pathErr[op] = make(map[string]error)
	}
	s.pathErr[op][storage.CleanPath(p)] = err
}

// enter counts the call and returns an injected fault. Callers hold mu.
func (s *Store) enter(op Op) error {
	s.calls[op]++
	f, ok := s.faults[op]
	if !ok || f.remaining <= 0 {
		return nil
	}
	f.remaining--
	return f.err
}

// enterPath is enter for calls addressing paths
func (s *Store) enterPath(op Op, paths ...string) error {
	if err := s.enter(op); err != nil {
		return err
	}
	for _, p := range paths {
		if err, ok := s.pathErr[op][storage.CleanPath(p)]; ok {
			return err
		}
	}
	return nil
}

// PutFile stores data at p, creating parent directories
func (s *Store) PutFile(p string, data []byte, mtime time.Time) *storage.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putFile(storage.CleanPath(p), data, mtime)
}

// PutDir creates p and its parents
func (s *Store) PutDir(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mkdirAll(storage.CleanPath(p))
}

// ReadFile returns the content stored at p
func (s *Store) ReadFile(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[storage.CleanPath(p)]
	if !ok || n.entry.IsDir {
		return nil, false
	}
	return bytes.Clone(n.data), true
}

// Paths lists every stored path except the root, sorted
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.nodes))
	for p := range s.nodes {
		if p != "/" {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

func (s *Store) Meta(ctx context.Context, p string) (*storage.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enterPath(OpMeta, p); err != nil {
		return nil, err
	}

	n, ok := s.nodes[storage.CleanPath(p)]
	if !ok {
		return nil, panerr.NewNotFoundError(p)
	}
	e := n.entry
	return &e, nil
}

// List returns the children of dir ordered by name
func (s *Store) List(ctx context.Context, dir string, limit, start int) ([]*storage.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enterPath(OpList, dir); err != nil {
		return nil, err
	}

	dir = storage.CleanPath(dir)
	n, ok := s.nodes[dir]
	if !ok || !n.entry.IsDir {
		return nil, panerr.NewNotFoundError(dir)
	}

	children := s.children(dir)
	if start >= len(children) {
		return []*storage.Entry{}, nil
	}
	end := len(children)
	if limit > 0 {
		end = min(start+limit, end)
	}

	page := make([]*storage.Entry, 0, end-start)
	for _, c := range children[start:end] {
		e := c.entry
		page = append(page, &e)
	}
	return page, nil
}

func (s *Store) Precreate(ctx context.Context, params *storage.PrecreateParams) (*storage.PrecreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enterPath(OpPrecreate, params.Path); err != nil {
		return nil, err
	}

	p := storage.CleanPath(params.Path)
	if err := s.checkTarget(p, params.Overwrite); err != nil {
		return nil, err
	}

	m := params.Manifest
	if data, ok := s.content[m.ContentMD5]; ok && uint64(len(data)) == m.Size {
		e := s.putFile(p, data, params.LocalMtime)
		return &storage.PrecreateResult{ReturnType: storage.ReturnTypeRapid, Entry: e}, nil
	}

	id := uuid.NewString()
	s.uploads[id] = &upload{path: p, manifest: m}
	return &storage.PrecreateResult{ReturnType: storage.ReturnTypeUpload, UploadID: id}, nil
}

func (s *Store) UploadPart(ctx context.Context, uploadID, p string, seq int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enterPath(OpUploadPart, p); err != nil {
		return err
	}

	u, ok := s.uploads[uploadID]
	if !ok {
		return fmt.Errorf("upload part %d: %w", seq, storage.ErrUploadNotFound)
	}
	if u.path != storage.CleanPath(p) {
		return panerr.NewRemoteAPIError("upload", 31363, "path does not match upload id")
	}
	if seq != len(u.parts) {
		return panerr.NewRemoteAPIError("upload", 31299, fmt.Sprintf("unexpected partseq %d, want %d", seq, len(u.parts)))
	}
	if seq >= len(u.manifest.BlockMD5s) || digest(data) != u.manifest.BlockMD5s[seq] {
		return panerr.NewRemoteAPIError("upload", 31190, fmt.Sprintf("part %d does not match block list", seq))
	}

	u.parts = append(u.parts, bytes.Clone(data))
	s.bytesUp += int64(len(data))
	return nil
}

func (s *Store) Finalize(ctx context.Context, params *storage.FinalizeParams) (*storage.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enterPath(OpFinalize, params.Path); err != nil {
		return nil, err
	}

	u, ok := s.uploads[params.UploadID]
	if !ok {
		return nil, fmt.Errorf("finalize: %w", storage.ErrUploadNotFound)
	}

	p := storage.CleanPath(params.Path)
	if u.path != p {
		return nil, panerr.NewRemoteAPIError("create", 31363, "path does not match upload id")
	}
	if len(u.parts) != len(u.manifest.BlockMD5s) {
		return nil, panerr.NewRemoteAPIError("create", 31352, fmt.Sprintf("got %d of %d parts", len(u.parts), len(u.manifest.BlockMD5s)))
	}

	data := bytes.Join(u.parts, nil)
	if uint64(len(data)) != u.manifest.Size || digest(data) != u.manifest.ContentMD5 {
		return nil, panerr.NewRemoteAPIError("create", 31365, "content does not match manifest")
	}
	if err := s.checkTarget(p, params.Overwrite); err != nil {
		return nil, err
	}

	delete(s.uploads, params.UploadID)
	return s.putFile(p, data, params.LocalMtime), nil
}

func (s *Store) Mkdir(ctx context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enterPath(OpMkdir, p); err != nil {
		return err
	}

	p = storage.CleanPath(p)
	if n, ok := s.nodes[p]; ok {
		if n.entry.IsDir {
			return fmt.Errorf("mkdir %s: %w", p, storage.ErrAlreadyExists)
		}
		return panerr.NewConflictError(p, "a file exists at this path")
	}
	if err := s.checkParents(p); err != nil {
		return err
	}
	s.mkdirAll(p)
	return nil
}

// Delete removes every path recursively. Missing paths are ignored.
func (s *Store) Delete(ctx context.Context, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enterPath(OpDelete, paths...); err != nil {
		return err
	}

	for _, p := range paths {
		p = storage.CleanPath(p)
		if p == "/" {
			return panerr.NewRemoteAPIError("filemanager", 2, "cannot delete root")
		}
		prefix := p + "/"
		for k := range s.nodes {
			if k == p || strings.HasPrefix(k, prefix) {
				delete(s.nodes, k)
			}
		}
	}
	return nil
}

func (s *Store) Download(ctx context.Context, p string, offset int64) (*storage.DownloadStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enterPath(OpDownload, p); err != nil {
		return nil, err
	}

	p = storage.CleanPath(p)
	n, ok := s.nodes[p]
	if !ok {
		return nil, panerr.NewNotFoundError(p)
	}
	if n.entry.IsDir {
		return nil, panerr.NewConflictError(p, "cannot download a directory")
	}

	size := int64(len(n.data))
	if s.IgnoreRange || offset < 0 {
		offset = 0
	}
	if offset > size {
		return nil, panerr.NewRemoteAPIError("download", 416, "requested range not satisfiable")
	}

	body := bytes.Clone(n.data[offset:])
	s.bytesDown += int64(len(body))
	return &storage.DownloadStream{
		Body:   io.NopCloser(bytes.NewReader(body)),
		Offset: offset,
		Size:   size,
	}, nil
}

// checkTarget validates an upload destination. Callers hold mu.
func (s *Store) checkTarget(p string, ow storage.OverwriteType) error {
	if n, ok := s.nodes[p]; ok {
		if n.entry.IsDir {
			return panerr.NewConflictError(p, "a directory exists at this path")
		}
		if ow != storage.OverwriteReplace {
			return fmt.Errorf("upload %s: %w", p, storage.ErrAlreadyExists)
		}
	}
	return s.checkParents(p)
}

func (s *Store) checkParents(p string) error {
	for dir := path.Dir(p); dir != "/"; dir = path.Dir(dir) {
		if n, ok := s.nodes[dir]; ok && !n.entry.IsDir {
			return panerr.NewConflictError(dir, "parent is a file")
		}
	}
	return nil
}

func (s *Store) mkdirAll(p string) {
	for dir := p; dir != "/"; dir = path.Dir(dir) {
		if _, ok := s.nodes[dir]; ok {
			continue
		}
		s.nextID++
		s.nodes[dir] = &node{entry: storage.Entry{
			Path:  dir,
			IsDir: true,
			Mtime: time.Now().Truncate(time.Second),
			FsID:  s.nextID,
		}}
	}
}

func (s *Store) putFile(p string, data []byte, mtime time.Time) *storage.Entry {
	s.mkdirAll(path.Dir(p))

	data = bytes.Clone(data)
	sum := digest(data)
	s.content[sum] = data
	s.nextID++

	if mtime.IsZero() {
		mtime = time.Now()
	}
	n := &node{
		entry: storage.Entry{
			Path:  p,
			Size:  uint64(len(data)),
			Mtime: time.Unix(mtime.Unix(), 0),
			MD5:   sum,
			FsID:  s.nextID,
		},
		data: data,
	}
	s.nodes[p] = n

	e := n.entry
	return &e
}

func (s *Store) children(dir string) []*node {
	var out []*node
	for p, n := range s.nodes {
		if p != "/" && path.Dir(p) == dir {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].entry.Path < out[j].entry.Path })
	return out
}

func digest(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
