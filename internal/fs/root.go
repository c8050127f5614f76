// Package fs serves the intent catalog tree through FUSE (cgofuse).
package fs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/winfsp/cgofuse/fuse"

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

// handle is an open file or directory.
type handle struct {
	path    string
	buf     []byte
	write   bool
	written bool
	entries []string // directories only
}

// IntentFS implements the FUSE interface from cgofuse.
type IntentFS struct {
	fuse.FileSystemBase
	tree      Tree
	ctx       context.Context
	log       zerolog.Logger
	mountTime fuse.Timespec

	mu      sync.Mutex
	next    uint64
	handles map[uint64]*handle
	pending map[string]time.Time
}

func NewIntentFS(ctx context.Context, t Tree, log zerolog.Logger) *IntentFS {
	return &IntentFS{
		tree:      t,
		ctx:       ctx,
		log:       log,
		mountTime: fuse.NewTimespec(time.Now()),
		next:      1,
		handles:   map[uint64]*handle{},
		pending:   map[string]time.Time{},
	}
}

func (fs *IntentFS) open(h *handle) uint64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fh := fs.next
	fs.next++
	fs.handles[fh] = h
	return fh
}

func (fs *IntentFS) handle(fh uint64) *handle {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.handles[fh]
}

func (fs *IntentFS) release(fh uint64) *handle {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h := fs.handles[fh]
	delete(fs.handles, fh)
	return h
}

func (fs *IntentFS) pendingSince(p string) (time.Time, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	t, ok := fs.pending[p]
	return t, ok
}

// Getattr (Stat)
func (fs *IntentFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	stat.Atim = fs.mountTime
	stat.Ctim = fs.mountTime
	stat.Birthtim = fs.mountTime
	stat.Mtim = fs.mountTime

	if created, ok := fs.pendingSince(path); ok {
		stat.Mode = fuse.S_IFREG | 0o644
		stat.Nlink = 1
		stat.Mtim = fuse.NewTimespec(created)
		if h := fs.handle(fh); h != nil {
			stat.Size = int64(len(h.buf))
		}
		return 0
	}

	info, err := fs.tree.Stat(fs.ctx, path)
	if err != nil {
		return errno(err)
	}
	if !info.ModTime.IsZero() {
		stat.Mtim = fuse.NewTimespec(info.ModTime)
	}
	switch {
	case info.Dir && info.Writable:
		stat.Mode = fuse.S_IFDIR | 0o755
		stat.Nlink = 2
	case info.Dir:
		stat.Mode = fuse.S_IFDIR | 0o555
		stat.Nlink = 2
	case info.Writable:
		stat.Mode = fuse.S_IFREG | 0o644
		stat.Nlink = 1
	default:
		stat.Mode = fuse.S_IFREG | 0o444
		stat.Nlink = 1
	}
	stat.Size = info.Size
	if h := fs.handle(fh); h != nil && h.written {
		stat.Size = int64(len(h.buf))
	}
	return 0
}

// Open snapshots the content. Write handles keep it as the base of partial
// writes unless O_TRUNC is set.
func (fs *IntentFS) Open(path string, flags int) (int, uint64) {
	write := flags&fuse.O_ACCMODE != fuse.O_RDONLY
	if _, ok := fs.pendingSince(path); ok {
		return 0, fs.open(&handle{path: path, write: write})
	}

	info, err := fs.tree.Stat(fs.ctx, path)
	if err != nil {
		return errno(err), ^uint64(0)
	}
	if info.Dir {
		return -fuse.EISDIR, ^uint64(0)
	}
	if write && !info.Writable {
		return -fuse.EACCES, ^uint64(0)
	}

	h := &handle{path: path, write: write}
	if !write || flags&fuse.O_TRUNC == 0 {
		if h.buf, err = fs.tree.Read(fs.ctx, path); err != nil {
			return errno(err), ^uint64(0)
		}
	}
	return 0, fs.open(h)
}

// Create registers a local empty file. It reaches the catalog on the first
// release after a write.
func (fs *IntentFS) Create(path string, flags int, mode uint32) (int, uint64) {
	info, err := fs.tree.Stat(fs.ctx, path)
	switch {
	case err == nil && info.Dir:
		return -fuse.EISDIR, ^uint64(0)
	case err == nil && !info.Writable:
		return -fuse.EACCES, ^uint64(0)
	case err == nil:
		return 0, fs.open(&handle{path: path, write: true})
	case !errors.Is(err, faults.NotFound):
		return errno(err), ^uint64(0)
	}
	fs.mu.Lock()
	fs.pending[path] = time.Now()
	fs.mu.Unlock()
	return 0, fs.open(&handle{path: path, write: true})
}

// Read (Cat file)
func (fs *IntentFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	var content []byte
	if h := fs.handle(fh); h != nil {
		content = h.buf
	} else {
		info, err := fs.tree.Stat(fs.ctx, path)
		if err != nil {
			return errno(err)
		}
		if info.Dir {
			return -fuse.EISDIR
		}
		if content, err = fs.tree.Read(fs.ctx, path); err != nil {
			return errno(err)
		}
	}

	if ofst >= int64(len(content)) {
		return 0
	}
	return copy(buff, content[ofst:])
}

func (fs *IntentFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	h := fs.handle(fh)
	if h == nil || !h.write {
		return -fuse.EBADF
	}
	end := ofst + int64(len(buff))
	if end > int64(len(h.buf)) {
		grown := make([]byte, end)
		copy(grown, h.buf)
		h.buf = grown
	}
	h.written = true
	return copy(h.buf[ofst:], buff)
}

// Truncate resizes an open buffer. A truncate alone never commits; the
// catalog only sees content that was written.
func (fs *IntentFS) Truncate(path string, size int64, fh uint64) int {
	h := fs.handle(fh)
	if h == nil {
		if _, ok := fs.pendingSince(path); ok {
			return 0
		}
		info, err := fs.tree.Stat(fs.ctx, path)
		if err != nil {
			return errno(err)
		}
		if !info.Writable || info.Dir {
			return -fuse.EACCES
		}
		return 0
	}
	if size < int64(len(h.buf)) {
		h.buf = h.buf[:size]
	} else if size > int64(len(h.buf)) {
		grown := make([]byte, size)
		copy(grown, h.buf)
		h.buf = grown
	}
	return 0
}

// Release commits a written handle through the tree.
func (fs *IntentFS) Release(path string, fh uint64) int {
	h := fs.release(fh)
	if h == nil || !h.written {
		return 0
	}
	w, err := fs.tree.Write(fs.ctx, h.path, h.buf)
	if err != nil {
		fs.log.Warn().Err(err).Str("path", h.path).Msg("write rejected")
		return errno(err)
	}
	fs.mu.Lock()
	delete(fs.pending, h.path)
	fs.mu.Unlock()
	fs.log.Debug().Str("path", w.Path).Bool("created", w.Created).Msg("committed")
	return 0
}

func (fs *IntentFS) Unlink(path string) int {
	fs.mu.Lock()
	_, pending := fs.pending[path]
	delete(fs.pending, path)
	fs.mu.Unlock()
	if pending {
		return 0
	}
	if err := fs.tree.Delete(fs.ctx, path); err != nil {
		return errno(err)
	}
	return 0
}

// Rmdir deletes an intent-type folder. The tree asks for confirmation when
// intents still exist.
func (fs *IntentFS) Rmdir(path string) int {
	if err := fs.tree.Delete(fs.ctx, path); err != nil {
		return errno(err)
	}
	return 0
}

func (fs *IntentFS) Mkdir(path string, mode uint32) int {
	if _, err := fs.tree.Mkdir(fs.ctx, path); err != nil {
		return errno(err)
	}
	return 0
}

func (fs *IntentFS) Rename(oldpath string, newpath string) int {
	return -fuse.EPERM
}

// Opendir caches the entry list so paged Readdir calls see one snapshot.
func (fs *IntentFS) Opendir(path string) (int, uint64) {
	entries, code := fs.entries(path)
	if code != 0 {
		return code, ^uint64(0)
	}
	return 0, fs.open(&handle{path: path, entries: entries})
}

func (fs *IntentFS) entries(path string) ([]string, int) {
	listing, err := fs.tree.List(fs.ctx, path)
	if err != nil {
		if info, serr := fs.tree.Stat(fs.ctx, path); serr == nil && !info.Dir {
			return nil, -fuse.ENOTDIR
		}
		return nil, errno(err)
	}
	if listing.Truncated {
		fs.log.Warn().Str("path", path).Int("total", listing.Total).Msg("listing truncated")
	}
	names := append([]string{".", ".."}, listing.Names()...)
	fs.mu.Lock()
	for p := range fs.pending {
		if filepath.Dir(p) == path {
			names = append(names, filepath.Base(p))
		}
	}
	fs.mu.Unlock()
	return names, 0
}

// Readdir (List directory). fill returns false when the kernel buffer is
// full; the next call resumes at ofst.
func (fs *IntentFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	var names []string
	if h := fs.handle(fh); h != nil && h.entries != nil {
		names = h.entries
	} else {
		var code int
		if names, code = fs.entries(path); code != 0 {
			return code
		}
	}
	for i := ofst; i < int64(len(names)); i++ {
		if !fill(names[i], nil, i+1) {
			break
		}
	}
	return 0
}

func (fs *IntentFS) Releasedir(path string, fh uint64) int {
	fs.release(fh)
	return 0
}

// errno maps a tree fault onto a negative FUSE error code.
func errno(err error) int {
	switch faults.KindOf(err) {
	case faults.NotFound, faults.Invalid:
		return -fuse.ENOENT
	case faults.Permission:
		return -fuse.EACCES
	case faults.Rejected:
		return -fuse.EINVAL
	default:
		return -fuse.EIO
	}
}

var _ Tree = (*tree.Engine)(nil)
