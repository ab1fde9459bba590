package legacy

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ucdavis-hpc/cheeto/internal/errs"
	"github.com/ucdavis-hpc/cheeto/internal/types"
)

// PostloadValidator is a named, opt-in check run after a successful load
// (puppet.py's _postload_validators registry).
type PostloadValidator func(source string, data AccountMap, strict bool) error

// Repo loads, validates, and holds a merged legacy YAML tree, grounded on
// puppet.py's YamlRepo.
type Repo struct {
	Root       string
	Strict     bool
	MaxDepth   int
	Validators []PostloadValidator
	log        *zap.Logger

	Data    AccountMap
	loaded  bool
	sources []string
}

func NewRepo(root string, strict bool, log *zap.Logger) *Repo {
	return &Repo{Root: root, Strict: strict, MaxDepth: 8, log: log.Named("legacy")}
}

// Lock acquires the tree's file lock (puppet.py's FileLock-guarded load),
// blocking up to timeout.
func (r *Repo) Lock(ctx context.Context, timeout time.Duration) (func(), error) {
	lockPath := r.Root + "/.cheeto.lock"
	fl := flock.New(lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ok, err := fl.TryLockContext(lockCtx, 200*time.Millisecond)
	if err != nil {
		return nil, errs.Externalf("Filesystem", err, "locking %s", lockPath)
	}
	if !ok {
		return nil, errs.Timeout("Filesystem", fmt.Errorf("lock %s: timed out after %s", lockPath, timeout))
	}
	return func() { _ = fl.Unlock() }, nil
}

// Load walks the tree (bounded depth), parses every YAML file, deep-merges
// them per strategy (§4.4), and validates shape. Strict mode returns on the
// first parse error; non-strict logs and continues.
func (r *Repo) Load(strategy types.MergeStrategy) error {
	fsys := os.DirFS(r.Root)
	paths, err := types.FindYAMLFiles(fsys, ".", r.MaxDepth)
	if err != nil {
		return errs.Externalf("Filesystem", err, "walking %s", r.Root)
	}

	merged := AccountMap{}
	for _, p := range paths {
		data, err := os.ReadFile(r.Root + "/" + p)
		if err != nil {
			if r.Strict {
				return errs.Externalf("Filesystem", err, "reading %s", p)
			}
			r.log.Warn("skipping unreadable yaml", zap.String("path", p), zap.Error(err))
			continue
		}
		var doc AccountMap
		if err := yaml.Unmarshal(data, &doc); err != nil {
			if r.Strict {
				return errs.Validationf(p, "yaml parse error: %v", err)
			}
			r.log.Warn("skipping invalid yaml", zap.String("path", p), zap.Error(err))
			continue
		}
		merged = mergeAccountMaps(merged, doc, strategy)
		r.sources = append(r.sources, p)
	}

	r.Data = merged
	r.loaded = true
	return nil
}

// mergeAccountMaps applies the forest merge strategy at the file level
// (§4.1): NONE keeps only the last file's values per key (no real merge
// across files beyond map overwrite), PREFIX/ALL additively merge list
// fields using types.Merge's puppet-style semantics by round-tripping
// through generic maps.
func mergeAccountMaps(a, b AccountMap, strategy types.MergeStrategy) AccountMap {
	if strategy == types.MergeNone {
		return a.Merge(b)
	}
	var am, bm map[string]any
	reencode(a, &am)
	reencode(b, &bm)
	merged := types.Merge(am, bm)
	var out AccountMap
	reencode(merged, &out)
	return out
}

func reencode(in, out any) {
	data, err := yaml.Marshal(in)
	if err != nil {
		return
	}
	_ = yaml.Unmarshal(data, out)
}

// PostloadValidate runs every registered validator against the loaded data.
func (r *Repo) PostloadValidate() error {
	if !r.loaded {
		return errs.Integrityf("legacy repo not loaded")
	}
	for _, v := range r.Validators {
		source := "<merged>"
		if len(r.sources) > 0 {
			source = r.sources[len(r.sources)-1]
		}
		if err := v(source, r.Data, r.Strict); err != nil {
			if r.Strict {
				return err
			}
			r.log.Warn("postload validator failed", zap.Error(err))
		}
	}
	return nil
}

// ValidateSponsors implements postload validator (i): every group sponsor is
// a known user.
func ValidateSponsors(_ string, data AccountMap, strict bool) error {
	for gname, g := range data.Group {
		for _, sponsor := range g.Sponsors {
			if _, ok := data.User[sponsor]; !ok {
				if strict {
					return errs.Integrityf("group %s: sponsor %s is not a known user", gname, sponsor)
				}
			}
		}
	}
	return nil
}

// ValidateUserGroups implements postload validator (ii): every user's
// listed groups exist.
func ValidateUserGroups(_ string, data AccountMap, strict bool) error {
	for uname, u := range data.User {
		for _, gname := range u.Groups {
			if _, ok := data.Group[gname]; !ok {
				if strict {
					return errs.Integrityf("user %s: group %s does not exist", uname, gname)
				}
			}
		}
	}
	return nil
}
