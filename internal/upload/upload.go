// Package upload pushes an intent-type, or a set of intents, from a local
// directory tree into the intent catalog.
//
// An intent-type folder is named "{name}_v{N}" and holds:
//
//	meta-info.json
//	script-content.js | script-content.mjs
//	yang-modules/*
//	intent-type-resources/**   (optional)
//	views/*.viewConfig         (optional)
//	intents/*.json             (optional)
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rs/zerolog"

	"github.com/agentic-research/intentfs/api"
	"github.com/agentic-research/intentfs/internal/faults"
	"github.com/agentic-research/intentfs/internal/notify"
	"github.com/agentic-research/intentfs/internal/tree"
	"github.com/agentic-research/intentfs/internal/vpath"
	"github.com/agentic-research/intentfs/internal/writeback"
)

// Tree is the part of the tree engine an upload drives.
type Tree interface {
	List(ctx context.Context, p string) (tree.Listing, error)
	Put(ctx context.Context, doc *api.IntentType) (bool, error)
	Write(ctx context.Context, p string, content []byte) (tree.Written, error)
}

// Summary reports what an upload did.
type Summary struct {
	Key     string
	Created bool
	Views   int
	Intents int
	Failed  int
}

type Uploader struct {
	tree     Tree
	reporter notify.Reporter
	log      zerolog.Logger
}

type Option func(*Uploader)

func WithReporter(r notify.Reporter) Option { return func(u *Uploader) { u.reporter = r } }

func WithLogger(l zerolog.Logger) Option { return func(u *Uploader) { u.log = l } }

func New(t Tree, opts ...Option) *Uploader {
	u := &Uploader{tree: t, reporter: notify.Discard, log: zerolog.Nop()}
	for _, o := range opts {
		o(u)
	}
	return u
}

// undesired are meta-info fields the catalog API refuses.
var undesired = []string{"resourceDirectory", "supported-hardware-types"}

// IntentType uploads the intent-type folder dir of src. Everything is read
// and the script syntax-checked before the first remote call. Views and
// intents that fail are reported and skipped; a lost connection aborts.
func (u *Uploader) IntentType(ctx context.Context, src billy.Filesystem, dir string) (Summary, error) {
	folder := path.Base(filepath.ToSlash(dir))
	name, version, ok := api.SplitKey(folder)
	if !ok {
		return Summary{}, faults.New(faults.Invalid, "upload", dir, "folder must be named {name}_v{N}")
	}
	key := api.Key(name, version)
	sum := Summary{Key: key}

	doc, err := u.load(src, dir, name, version)
	if err != nil {
		return sum, err
	}
	views, err := matching(src, path.Join(dir, vpath.ViewsDir), ".viewConfig")
	if err != nil {
		return sum, err
	}
	intents, err := matching(src, path.Join(dir, vpath.IntentsDir), ".json")
	if err != nil {
		return sum, err
	}

	if sum.Created, err = u.tree.Put(ctx, doc); err != nil {
		return sum, fmt.Errorf("upload %s: %w", key, err)
	}
	u.log.Info().Str("intent_type", key).Bool("created", sum.Created).Msg("intent-type uploaded")

	for _, v := range views {
		content, err := util.ReadFile(src, path.Join(dir, vpath.ViewsDir, v))
		if err != nil {
			return sum, err
		}
		if err := u.item(ctx, "/"+key+"/"+vpath.ViewsDir+"/"+v, content, &sum.Views, &sum.Failed); err != nil {
			return sum, err
		}
	}

	if len(intents) > 0 {
		n, failed, err := u.intents(ctx, src, path.Join(dir, vpath.IntentsDir), key, intents)
		sum.Intents, sum.Failed = n, sum.Failed+failed
		if err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// Intents uploads every *.json file of dir as an intent of the
// intent-type key, creating or updating each target.
func (u *Uploader) Intents(ctx context.Context, src billy.Filesystem, dir, key string) (Summary, error) {
	if _, _, ok := api.SplitKey(key); !ok {
		return Summary{}, faults.New(faults.Invalid, "upload", key, "not an intent-type key")
	}
	files, err := matching(src, dir, ".json")
	if err != nil {
		return Summary{}, err
	}
	if _, err := u.tree.List(ctx, "/"); err != nil {
		return Summary{}, err
	}
	sum := Summary{Key: key}
	sum.Intents, sum.Failed, err = u.intents(ctx, src, dir, key, files)
	return sum, err
}

func (u *Uploader) intents(ctx context.Context, src billy.Filesystem, dir, key string, files []string) (int, int, error) {
	// existing targets decide between update and create
	if _, err := u.tree.List(ctx, "/"+key+"/"+vpath.IntentsDir); err != nil {
		return 0, 0, err
	}
	var done, failed int
	for _, f := range files {
		content, err := util.ReadFile(src, path.Join(dir, f))
		if err != nil {
			return done, failed, err
		}
		if err := u.item(ctx, "/"+key+"/"+vpath.IntentsDir+"/"+f, content, &done, &failed); err != nil {
			return done, failed, err
		}
	}
	return done, failed, nil
}

func (u *Uploader) item(ctx context.Context, p string, content []byte, done, failed *int) error {
	_, err := u.tree.Write(ctx, p, content)
	switch {
	case errors.Is(err, faults.Connectivity):
		return err
	case err != nil:
		*failed++
		u.reporter.Error(fmt.Sprintf("upload %s failed: %v", p, err))
		return nil
	}
	*done++
	return nil
}

// load assembles the catalog document from the folder.
func (u *Uploader) load(src billy.Filesystem, dir, name string, version int) (*api.IntentType, error) {
	raw, err := util.ReadFile(src, path.Join(dir, vpath.MetaInfoFile))
	if err != nil {
		return nil, missing(dir, vpath.MetaInfoFile, err)
	}
	meta, err := decodeMeta(raw)
	if err != nil {
		return nil, faults.Wrap(faults.Invalid, "upload", path.Join(dir, vpath.MetaInfoFile), err)
	}

	script, scriptFile, err := readScript(src, dir)
	if err != nil {
		return nil, err
	}
	if err := writeback.Validate(script, scriptFile); err != nil {
		return nil, &faults.Error{Kind: faults.Invalid, Op: "upload", Path: path.Join(dir, scriptFile), Err: err}
	}

	modules, err := u.files(src, path.Join(dir, vpath.ModulesDir), false)
	if err != nil {
		return nil, missing(dir, vpath.ModulesDir, err)
	}
	resources, err := u.files(src, path.Join(dir, vpath.ResourcesDir), true)
	if errors.Is(err, os.ErrNotExist) {
		u.reporter.Warn(api.Key(name, version) + " has no resources")
	} else if err != nil {
		return nil, err
	}

	prepare(meta, name, version, u.reporter)
	meta["script-content"] = string(script)
	meta["module"] = entries(modules, "yang-content")
	meta["resource"] = entries(resources, "value")

	doc, err := api.IntentTypeFromFields(meta)
	if err != nil {
		return nil, faults.Wrap(faults.Invalid, "upload", dir, err)
	}
	return doc, nil
}

func missing(dir, what string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return faults.New(faults.NotFound, "upload", path.Join(dir, what), what+" not found")
	}
	return err
}

func decodeMeta(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var meta map[string]any
	if err := dec.Decode(&meta); err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, errors.New("meta-info is not an object")
	}
	return meta, nil
}

func readScript(src billy.Filesystem, dir string) ([]byte, string, error) {
	for _, f := range []string{"script-content.js", "script-content.mjs"} {
		b, err := util.ReadFile(src, path.Join(dir, f))
		if err == nil {
			return b, f, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, "", err
		}
	}
	return nil, "", faults.New(faults.NotFound, "upload", dir, "script-content not found")
}

// prepare turns an exported meta-info document into a catalog document.
// The folder name wins over the intent-type and version it may carry.
func prepare(meta map[string]any, name string, version int, reporter notify.Reporter) {
	folder := api.Key(name, version)
	if it, ok := meta["intent-type"]; ok {
		if v, ok := meta["version"]; ok && fmt.Sprintf("%v_v%v", it, v) != folder {
			reporter.Warn(fmt.Sprintf("meta-info names %v_v%v, uploading as %s", it, v, folder))
		}
	}
	delete(meta, "intent-type")
	meta["name"] = name
	meta["version"] = version

	// exported documents lack the index key of targetted-device entries
	if devices, ok := meta["targetted-device"].([]any); ok {
		for i, d := range devices {
			if entry, ok := d.(map[string]any); ok {
				if _, has := entry["index"]; !has {
					entry["index"] = i
				}
			}
		}
	}
	for _, k := range undesired {
		delete(meta, k)
	}
	if cf, ok := meta["custom-field"]; ok {
		if _, isString := cf.(string); !isString {
			b, _ := json.Marshal(cf)
			meta["custom-field"] = string(b)
		}
	}
}

type file struct {
	name    string
	content []byte
}

// files reads the regular files below dir, skipping dot files. With
// recursive set, names are slash-separated paths relative to dir.
func (u *Uploader) files(src billy.Filesystem, dir string, recursive bool) ([]file, error) {
	if _, err := src.Stat(dir); err != nil {
		return nil, err
	}
	var out []file
	err := util.Walk(src, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(filepath.ToSlash(strings.TrimPrefix(p, dir)), "/")
		if rel == "" {
			return nil
		}
		hidden := strings.HasPrefix(path.Base(rel), ".")
		if info.IsDir() {
			if !recursive || hidden {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden || !info.Mode().IsRegular() {
			return nil
		}
		b, err := util.ReadFile(src, p)
		if err != nil {
			return err
		}
		out = append(out, file{name: rel, content: b})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	u.log.Debug().Str("dir", dir).Int("files", len(out)).Msg("collected")
	return out, nil
}

func entries(files []file, field string) []any {
	out := make([]any, 0, len(files))
	for _, f := range files {
		out = append(out, map[string]any{"name": f.name, field: string(f.content)})
	}
	return out
}

// matching lists the file names in dir with suffix. A missing dir is empty.
func matching(src billy.Filesystem, dir, suffix string) ([]string, error) {
	infos, err := src.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, fi := range infos {
		if !fi.IsDir() && strings.HasSuffix(fi.Name(), suffix) {
			out = append(out, fi.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
