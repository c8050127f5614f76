// Package nfsmount serves the intent catalog tree over NFSv3.
// It adapts the tree engine to billy.Filesystem for use with
// willscott/go-nfs.
package nfsmount

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	"github.com/rs/zerolog"

	"github.com/agentic-research/intentfs/api"
	"github.com/agentic-research/intentfs/internal/faults"
	"github.com/agentic-research/intentfs/internal/tree"
)

// Tree is what the filesystem projects. *tree.Engine implements it.
type Tree interface {
	List(ctx context.Context, p string) (tree.Listing, error)
	Read(ctx context.Context, p string) ([]byte, error)
	Stat(ctx context.Context, p string) (tree.Info, error)
	Write(ctx context.Context, p string, content []byte) (tree.Written, error)
	Delete(ctx context.Context, p string) error
	Mkdir(ctx context.Context, p string) (*api.IntentType, error)
}

// TreeFS adapts a Tree to billy.Filesystem.
type TreeFS struct {
	tree Tree
	ctx  context.Context
	log  zerolog.Logger

	mu sync.Mutex
	// pending holds files created but not yet written. They exist only
	// locally until their first commit.
	pending map[string]time.Time
}

// NewTreeFS returns a filesystem over t. ctx bounds every tree call; it
// is cancelled when the mount goes away.
func NewTreeFS(ctx context.Context, t Tree, log zerolog.Logger) *TreeFS {
	return &TreeFS{
		tree:    t,
		ctx:     ctx,
		log:     log,
		pending: map[string]time.Time{},
	}
}

// --- billy.Basic ---

// Create registers a new empty file. go-nfs closes it right away and sends
// the content through OpenFile, so nothing is committed here.
func (fs *TreeFS) Create(filename string) (billy.File, error) {
	filename = cleanPath(filename)
	info, err := fs.tree.Stat(fs.ctx, filename)
	switch {
	case err == nil && info.Dir:
		return nil, &os.PathError{Op: "create", Path: filename, Err: syscall.EISDIR}
	case err == nil && !info.Writable:
		return nil, &os.PathError{Op: "create", Path: filename, Err: os.ErrPermission}
	case err != nil && !errors.Is(err, faults.NotFound):
		return nil, pathError("create", filename, err)
	case err != nil:
		fs.mu.Lock()
		fs.pending[filename] = time.Now()
		fs.mu.Unlock()
	}
	return fs.writer(filename, nil), nil
}

func (fs *TreeFS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *TreeFS) OpenFile(filename string, flag int, _ os.FileMode) (billy.File, error) {
	filename = cleanPath(filename)
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) != 0 {
		return fs.openWritable(filename, flag)
	}
	if fs.isPending(filename) {
		return &bytesFile{name: filename}, nil
	}
	data, err := fs.tree.Read(fs.ctx, filename)
	if err != nil {
		return nil, pathError("open", filename, err)
	}
	return &bytesFile{name: filename, data: data}, nil
}

func (fs *TreeFS) openWritable(filename string, flag int) (billy.File, error) {
	if fs.isPending(filename) {
		return fs.writer(filename, nil), nil
	}
	info, err := fs.tree.Stat(fs.ctx, filename)
	if errors.Is(err, faults.NotFound) && flag&os.O_CREATE != 0 {
		fs.mu.Lock()
		fs.pending[filename] = time.Now()
		fs.mu.Unlock()
		return fs.writer(filename, nil), nil
	}
	if err != nil {
		return nil, pathError("open", filename, err)
	}
	if info.Dir {
		return nil, &os.PathError{Op: "open", Path: filename, Err: syscall.EISDIR}
	}
	if !info.Writable {
		return nil, &os.PathError{Op: "open", Path: filename, Err: os.ErrPermission}
	}

	// pre-fill for partial writes
	var buf []byte
	if flag&os.O_TRUNC == 0 {
		if buf, err = fs.tree.Read(fs.ctx, filename); err != nil {
			return nil, pathError("open", filename, err)
		}
	}
	return fs.writer(filename, buf), nil
}

func (fs *TreeFS) writer(filename string, buf []byte) *writeFile {
	return &writeFile{id: filename, buf: buf, onClose: fs.commit}
}

// commit writes content through the tree once a written file is closed.
func (fs *TreeFS) commit(p string, content []byte) error {
	w, err := fs.tree.Write(fs.ctx, p, content)
	if err != nil {
		fs.log.Warn().Err(err).Str("path", p).Msg("write rejected")
		return pathError("write", p, err)
	}
	fs.mu.Lock()
	delete(fs.pending, p)
	fs.mu.Unlock()
	fs.log.Debug().Str("path", w.Path).Bool("created", w.Created).Msg("committed")
	return nil
}

func (fs *TreeFS) isPending(p string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.pending[p]
	return ok
}

func (fs *TreeFS) Stat(filename string) (os.FileInfo, error) {
	return fs.Lstat(filename)
}

// Rename is refused. Editors that save through a temporary copy write
// "{target} copy", which the tree maps back onto the target.
func (fs *TreeFS) Rename(oldpath, newpath string) error {
	return &os.PathError{Op: "rename", Path: oldpath, Err: os.ErrPermission}
}

func (fs *TreeFS) Remove(filename string) error {
	filename = cleanPath(filename)
	fs.mu.Lock()
	_, pending := fs.pending[filename]
	delete(fs.pending, filename)
	fs.mu.Unlock()
	if pending {
		return nil
	}
	if err := fs.tree.Delete(fs.ctx, filename); err != nil {
		return pathError("remove", filename, err)
	}
	return nil
}

func (fs *TreeFS) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// --- billy.TempFile ---

func (fs *TreeFS) TempFile(dir, prefix string) (billy.File, error) {
	return nil, billy.ErrNotSupported
}

// --- billy.Dir ---

func (fs *TreeFS) ReadDir(path string) ([]os.FileInfo, error) {
	path = cleanPath(path)
	listing, err := fs.tree.List(fs.ctx, path)
	if err != nil {
		return nil, pathError("readdir", path, err)
	}
	if listing.Truncated {
		fs.log.Warn().Str("path", path).Int("total", listing.Total).Msg("listing truncated")
	}

	infos := make([]os.FileInfo, 0, len(listing.Entries))
	seen := map[string]bool{}
	for _, e := range listing.Entries {
		child := filepath.Join(path, e.Name)
		seen[child] = true
		info, err := fs.tree.Stat(fs.ctx, child)
		if err != nil {
			fs.log.Debug().Err(err).Str("path", child).Msg("skipping entry")
			continue
		}
		info.Name = e.Name
		infos = append(infos, toFileInfo(info))
	}

	fs.mu.Lock()
	for p, created := range fs.pending {
		if filepath.Dir(p) == path && !seen[p] {
			infos = append(infos, pendingInfo(p, created))
		}
	}
	fs.mu.Unlock()
	return infos, nil
}

// MkdirAll creates an intent-type for a new top-level folder. Existing
// directories succeed; any other shape is refused by the tree.
func (fs *TreeFS) MkdirAll(filename string, _ os.FileMode) error {
	filename = cleanPath(filename)
	if info, err := fs.tree.Stat(fs.ctx, filename); err == nil && info.Dir {
		return nil
	}
	if _, err := fs.tree.Mkdir(fs.ctx, filename); err != nil {
		return pathError("mkdir", filename, err)
	}
	return nil
}

// --- billy.Symlink ---

func (fs *TreeFS) Lstat(filename string) (os.FileInfo, error) {
	filename = cleanPath(filename)
	fs.mu.Lock()
	created, pending := fs.pending[filename]
	fs.mu.Unlock()
	if pending {
		return pendingInfo(filename, created), nil
	}

	info, err := fs.tree.Stat(fs.ctx, filename)
	if err != nil {
		return nil, pathError("lstat", filename, err)
	}
	if filename != "/" {
		info.Name = filepath.Base(filename)
	}
	return toFileInfo(info), nil
}

func (fs *TreeFS) Symlink(target, link string) error {
	return billy.ErrNotSupported
}

func (fs *TreeFS) Readlink(link string) (string, error) {
	return "", billy.ErrNotSupported
}

// --- billy.Chroot ---

func (fs *TreeFS) Chroot(path string) (billy.Filesystem, error) {
	return chroot.New(fs, path), nil
}

func (fs *TreeFS) Root() string {
	return "/"
}

// --- billy.Capable ---

func (fs *TreeFS) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.WriteCapability | billy.SeekCapability | billy.TruncateCapability
}

// --- internals ---

// pathError maps a tree fault onto the os error go-nfs turns into an
// NFS status. The fault itself is not kept: os.IsNotExist and friends only
// look one PathError deep.
func pathError(op, path string, err error) error {
	var errno error
	switch faults.KindOf(err) {
	case faults.NotFound, faults.Invalid:
		errno = os.ErrNotExist
	case faults.Permission:
		errno = os.ErrPermission
	case faults.Rejected:
		errno = syscall.EINVAL
	default:
		errno = syscall.EIO
	}
	return &os.PathError{Op: op, Path: path, Err: errno}
}

// cleanPath normalizes a billy path to a clean absolute path.
func cleanPath(path string) string {
	path = filepath.Clean("/" + path)
	if path == "." {
		return "/"
	}
	return path
}

func toFileInfo(info tree.Info) os.FileInfo {
	mode := os.FileMode(0o444)
	switch {
	case info.Dir && info.Writable:
		mode = os.ModeDir | 0o755
	case info.Dir:
		mode = os.ModeDir | 0o555
	case info.Writable:
		mode = 0o644
	}
	modTime := info.ModTime
	if modTime.IsZero() {
		modTime = time.Now()
	}
	return &staticFileInfo{name: info.Name, size: info.Size, mode: mode, modTime: modTime}
}

func pendingInfo(p string, created time.Time) os.FileInfo {
	return &staticFileInfo{name: filepath.Base(p), mode: 0o644, modTime: created}
}

// staticFileInfo implements os.FileInfo with static values.
type staticFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *staticFileInfo) Name() string       { return fi.name }
func (fi *staticFileInfo) Size() int64        { return fi.size }
func (fi *staticFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *staticFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *staticFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *staticFileInfo) Sys() any           { return nil }

var (
	_ billy.Filesystem = (*TreeFS)(nil)
	_ billy.Capable    = (*TreeFS)(nil)
	_ Tree             = (*tree.Engine)(nil)
)
