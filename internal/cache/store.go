// Package cache durably stores accepted candidates and human-reviewable diff
// artifacts. The on-disk layout is stable:
//
//	<root>/<safe>.py                 candidate source
//	<root>/originals/<safe>.py       original snapshot
//	<root>/diffs/<safe>.diff         unified diff
//	<root>/diffs/<safe>.md           markdown-embedded diff
//	<root>/diffs/<safe>.html         two-column rendering
//	<root>/diffs/<safe>.meta.json    artifact descriptor
//
// where <safe> is the identity's collision-free file stem. Only the latest
// accepted candidate is retained per identity.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lazarus/api/schemas"
)

// ErrNoDiff is returned when neither a stored diff nor the inputs to
// recompute one exist.
var ErrNoDiff = errors.New("no diff available")

// Store persists candidates and diff artifacts under a single root directory.
type Store struct {
	root   string
	logger *zap.Logger

	// now is injectable so tests can pin artifact timestamps.
	now func() time.Time
}

// NewStore builds a store rooted at dir. The directory is created lazily on
// first save.
func NewStore(dir string, logger *zap.Logger) *Store {
	return &Store{
		root:   dir,
		logger: logger.Named("cache"),
		now:    time.Now,
	}
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

// SetClock overrides the timestamp source. Test hook.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) candidatePath(id schemas.FunctionIdentity) string {
	return filepath.Join(s.root, id.SafeName()+".py")
}

func (s *Store) originalPath(id schemas.FunctionIdentity) string {
	return filepath.Join(s.root, "originals", id.SafeName()+".py")
}

func (s *Store) diffPath(id schemas.FunctionIdentity) string {
	return filepath.Join(s.root, "diffs", id.SafeName()+".diff")
}

func (s *Store) mdPath(id schemas.FunctionIdentity) string {
	return filepath.Join(s.root, "diffs", id.SafeName()+".md")
}

func (s *Store) htmlPath(id schemas.FunctionIdentity) string {
	return filepath.Join(s.root, "diffs", id.SafeName()+".html")
}

func (s *Store) metaPath(id schemas.FunctionIdentity) string {
	return filepath.Join(s.root, "diffs", id.SafeName()+".meta.json")
}

// ArtifactPaths returns where every artifact for the identity lives or would
// live; existence is not guaranteed.
func (s *Store) ArtifactPaths(id schemas.FunctionIdentity) schemas.ArtifactPaths {
	return schemas.ArtifactPaths{
		Candidate: s.candidatePath(id),
		Original:  s.originalPath(id),
		Diff:      s.diffPath(id),
		DiffMD:    s.mdPath(id),
		DiffHTML:  s.htmlPath(id),
		Meta:      s.metaPath(id),
	}
}

// recordID names a cached record deterministically. Saving the same candidate
// for the same identity twice yields the same ID, keeping the metadata
// artifact byte-identical across re-saves.
func recordID(id schemas.FunctionIdentity, candidate string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id.String()+"\n"+candidate)).String()
}

// Save persists an accepted candidate, overwriting any previous record for
// the identity. When an original snapshot is supplied the diff artifacts and
// the metadata descriptor are written alongside.
func (s *Store) Save(id schemas.FunctionIdentity, candidate string, original string) (*schemas.CacheRecord, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}

	candPath := s.candidatePath(id)
	if err := os.WriteFile(candPath, []byte(candidate), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write candidate: %w", err)
	}

	ts := s.now().UTC().Truncate(time.Second)
	record := &schemas.CacheRecord{
		ID:           recordID(id, candidate),
		Identity:     id,
		SafeName:     id.SafeName(),
		Paths:        schemas.ArtifactPaths{Candidate: candPath},
		GeneratedUTC: ts,
	}

	if original == "" {
		s.logger.Info("Cached accepted candidate (no original snapshot, diff skipped).",
			zap.String("identity", id.String()))
		return record, nil
	}

	origPath := s.originalPath(id)
	if err := os.MkdirAll(filepath.Dir(origPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create originals dir: %w", err)
	}
	if err := os.WriteFile(origPath, []byte(original), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write original snapshot: %w", err)
	}

	if err := s.writeDiffArtifacts(id, original, candidate, ts, record); err != nil {
		return nil, err
	}

	s.logger.Info("Cached accepted candidate with diff artifacts.",
		zap.String("identity", id.String()),
		zap.Int("diff_added", record.Stats.Added),
		zap.Int("diff_deleted", record.Stats.Deleted),
	)
	return record, nil
}

func (s *Store) writeDiffArtifacts(id schemas.FunctionIdentity, original, candidate string, ts time.Time, record *schemas.CacheRecord) error {
	diffDir := filepath.Join(s.root, "diffs")
	if err := os.MkdirAll(diffDir, 0o755); err != nil {
		return fmt.Errorf("failed to create diffs dir: %w", err)
	}

	stamp := ts.Format(time.RFC3339)
	diffText, err := unifiedDiff(id, original, candidate, stamp)
	if err != nil {
		return fmt.Errorf("failed to compute unified diff: %w", err)
	}
	if err := os.WriteFile(s.diffPath(id), []byte(diffText), 0o644); err != nil {
		return fmt.Errorf("failed to write diff: %w", err)
	}
	if err := os.WriteFile(s.mdPath(id), []byte(markdownDoc(id, diffText, stamp)), 0o644); err != nil {
		return fmt.Errorf("failed to write markdown diff: %w", err)
	}
	if err := os.WriteFile(s.htmlPath(id), []byte(htmlDiff(id, original, candidate, stamp)), 0o644); err != nil {
		return fmt.Errorf("failed to write html diff: %w", err)
	}

	record.Paths = s.ArtifactPaths(id)
	record.Stats = diffStats(diffText)

	meta, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(s.metaPath(id), append(meta, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// Load returns the stored candidate source for the identity, with ok=false
// when none has been accepted yet.
func (s *Store) Load(id schemas.FunctionIdentity) (string, bool, error) {
	data, err := os.ReadFile(s.candidatePath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cached candidate: %w", err)
	}
	return string(data), true, nil
}

// DiffText returns the stored unified diff, recomputing it from the original
// snapshot and the cached candidate when the artifact is missing. ErrNoDiff
// is returned when neither exists.
func (s *Store) DiffText(id schemas.FunctionIdentity) (string, error) {
	if data, err := os.ReadFile(s.diffPath(id)); err == nil {
		return string(data), nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to read diff: %w", err)
	}

	original, err := os.ReadFile(s.originalPath(id))
	if err != nil {
		return "", ErrNoDiff
	}
	candidate, ok, err := s.Load(id)
	if err != nil || !ok {
		return "", ErrNoDiff
	}
	return unifiedDiff(id, string(original), candidate, "")
}

// RegenerateArtifacts rebuilds the diff, markdown, html, and metadata
// artifacts from the stored original and candidate. It reports false when the
// required inputs are missing.
func (s *Store) RegenerateArtifacts(id schemas.FunctionIdentity) (bool, error) {
	original, err := os.ReadFile(s.originalPath(id))
	if err != nil {
		return false, nil
	}
	candidate, ok, err := s.Load(id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	ts := s.now().UTC().Truncate(time.Second)
	record := &schemas.CacheRecord{
		ID:           recordID(id, candidate),
		Identity:     id,
		SafeName:     id.SafeName(),
		GeneratedUTC: ts,
	}
	if err := s.writeDiffArtifacts(id, string(original), candidate, ts, record); err != nil {
		return false, err
	}
	return true, nil
}

// Clear removes cached artifacts and reports the number of files deleted.
// Scope: both namespace and name clear one function; namespace alone clears
// every function in it; neither clears the whole cache root.
func (s *Store) Clear(namespace, name string) (int, error) {
	if _, err := os.Stat(s.root); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	switch {
	case namespace != "" && name != "":
		return s.clearOne(schemas.FunctionIdentity{Namespace: namespace, Name: name})
	case namespace != "":
		return s.clearNamespace(namespace)
	default:
		return s.clearAll()
	}
}

func (s *Store) clearOne(id schemas.FunctionIdentity) (int, error) {
	targets := []string{
		s.candidatePath(id),
		s.originalPath(id),
		s.diffPath(id),
		s.mdPath(id),
		s.htmlPath(id),
		s.metaPath(id),
	}
	removed := 0
	for _, p := range targets {
		err := os.Remove(p)
		if err == nil {
			removed++
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Failed to remove cache artifact.", zap.String("path", p), zap.Error(err))
		}
	}
	s.pruneEmptyDirs()
	return removed, nil
}

func (s *Store) clearNamespace(namespace string) (int, error) {
	safeNS := strings.ReplaceAll(namespace, ".", "_")
	matches, err := filepath.Glob(filepath.Join(s.root, safeNS+"__*.py"))
	if err != nil {
		return 0, fmt.Errorf("failed to glob namespace %q: %w", namespace, err)
	}

	removed := 0
	for _, p := range matches {
		stem := strings.TrimSuffix(filepath.Base(p), ".py")
		// stem is <safe_ns>__<func>; everything after the separator is the name.
		funcName := stem[len(safeNS)+2:]
		if funcName == "" {
			continue
		}
		n, err := s.clearOne(schemas.FunctionIdentity{Namespace: namespace, Name: funcName})
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (s *Store) clearAll() (int, error) {
	removed := 0
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count cache files: %w", err)
	}
	if err := os.RemoveAll(s.root); err != nil {
		return 0, fmt.Errorf("failed to remove cache root: %w", err)
	}
	return removed, nil
}

// pruneEmptyDirs removes the artifact subdirectories and the root when a
// scoped clear has emptied them.
func (s *Store) pruneEmptyDirs() {
	for _, d := range []string{
		filepath.Join(s.root, "diffs"),
		filepath.Join(s.root, "originals"),
		s.root,
	} {
		// Remove succeeds only on empty directories, which is exactly the
		// behavior wanted here.
		_ = os.Remove(d)
	}
}
