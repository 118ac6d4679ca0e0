package checkpoint

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultPrefix = "checkpoint"

	jsonExt = ".json"
	gzExt   = ".json.gz"
)

// FileStoreConfig configures a FileStore. Zero values fall back to
// sensible defaults except Dir, which is required.
type FileStoreConfig struct {
	Dir       string
	Prefix    string
	Compress  bool
	MaxCount  int           // keep at most this many snapshots
	Retention time.Duration // delete snapshots older than this
	MaxBytes  int64         // cumulative size budget
}

// FileStore persists snapshots as one file per checkpoint:
// {prefix}_{timestamp-with-dashes}_{pipelineId}_{suffix}.json[.gz].
// The file stem doubles as the checkpoint id, which keeps ids sortable
// by creation time and makes lookup a substring match over file names.
type FileStore struct {
	dir       string
	prefix    string
	compress  bool
	maxCount  int
	retention time.Duration
	maxBytes  int64
	logger    Logger

	mu sync.Mutex
}

// NewFileStore creates the directory if needed and returns the store.
func NewFileStore(cfg FileStoreConfig, logger Logger) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, errors.New("checkpoint dir is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create checkpoint dir")
	}
	return &FileStore{
		dir:       cfg.Dir,
		prefix:    cfg.Prefix,
		compress:  cfg.Compress,
		maxCount:  cfg.MaxCount,
		retention: cfg.Retention,
		maxBytes:  cfg.MaxBytes,
		logger:    logger,
	}, nil
}

// newID derives a checkpoint id from the creation time, the pipeline id
// and a short random suffix. Lexicographic order equals creation order.
func (s *FileStore) newID(pipelineID string, ts time.Time) string {
	return NewID(s.prefix, pipelineID, ts)
}

func (s *FileStore) Save(ctx context.Context, cp *Checkpoint) (string, error) {
	if cp == nil {
		return "", errors.New("nil checkpoint")
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	if cp.Version == "" {
		cp.Version = SchemaVersion
	}
	if cp.ID == "" {
		cp.ID = s.newID(cp.PipelineID, cp.Timestamp)
	}
	if err := cp.Validate(); err != nil {
		return "", errors.Wrap(err, "invalid checkpoint")
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encode checkpoint")
	}

	ext := jsonExt
	if s.compress {
		ext = gzExt
	}

	s.mu.Lock()
	err = s.writeAtomic(cp.ID+ext, data)
	s.mu.Unlock()
	if err != nil {
		return "", errors.Wrapf(ErrWriteFailed, "%s: %v", cp.ID, err)
	}

	// Retention is enforced opportunistically after every save. Rotate
	// logs its own failures and never blocks the write that succeeded.
	_ = s.Rotate(ctx)

	return cp.ID, nil
}

// writeAtomic writes to a temp file in the same directory and renames it
// into place, so Load never observes a partially written snapshot.
func (s *FileStore) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if strings.HasSuffix(name, gzExt) {
		gz := gzip.NewWriter(tmp)
		if _, err := gz.Write(data); err != nil {
			_ = tmp.Close()
			return err
		}
		if err := gz.Close(); err != nil {
			_ = tmp.Close()
			return err
		}
	} else {
		if _, err := tmp.Write(data); err != nil {
			_ = tmp.Close()
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(s.dir, name))
}

func (s *FileStore) Load(ctx context.Context, id string) (*Checkpoint, error) {
	if id == "" {
		return nil, errors.Wrap(ErrNotFound, "empty id")
	}
	name, err := s.findFile(id)
	if err != nil {
		return nil, err
	}
	return s.loadFile(name)
}

func (s *FileStore) loadFile(name string) (*Checkpoint, error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "open checkpoint")
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(name, gzExt) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(ErrCorrupt, "%s: %v", name, err)
		}
		defer gz.Close()
		r = gz
	}

	var cp Checkpoint
	if err := json.NewDecoder(r).Decode(&cp); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "%s: %v", name, err)
	}
	return &cp, nil
}

// findFile resolves an id (or id substring) to a file name.
func (s *FileStore) findFile(id string) (string, error) {
	names, err := s.fileNames()
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if strings.Contains(stem(name), id) {
			return name, nil
		}
	}
	return "", errors.Wrap(ErrNotFound, id)
}

// fileNames returns checkpoint file names newest-first. Ids embed the
// creation timestamp, so reverse lexicographic order is creation order.
func (s *FileStore) fileNames() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "read checkpoint dir")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, s.prefix+"_") {
			continue
		}
		if !strings.HasSuffix(name, jsonExt) && !strings.HasSuffix(name, gzExt) {
			continue
		}
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func (s *FileStore) List(ctx context.Context, pipelineID string) ([]Metadata, error) {
	names, err := s.fileNames()
	if err != nil {
		return nil, err
	}
	metas := make([]Metadata, 0, len(names))
	for _, name := range names {
		meta, ok := s.metaFromName(name)
		if !ok {
			continue
		}
		if pipelineID != "" && meta.PipelineID != pipelineID {
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// metaFromName derives snapshot metadata from the file name and size
// alone, without decoding the body.
func (s *FileStore) metaFromName(name string) (Metadata, bool) {
	id := stem(name)
	parts := strings.Split(id, "_")
	if len(parts) < 4 {
		return Metadata{}, false
	}
	ts, err := parseStamp(parts[1])
	if err != nil {
		return Metadata{}, false
	}
	// The pipeline id may itself contain underscores; the random suffix
	// never does, so everything between stamp and suffix belongs to it.
	pipelineID := strings.Join(parts[2:len(parts)-1], "_")

	info, err := os.Stat(filepath.Join(s.dir, name))
	if err != nil {
		return Metadata{}, false
	}
	return Metadata{
		ID:         id,
		PipelineID: pipelineID,
		Timestamp:  ts,
		Size:       info.Size(),
		Compressed: strings.HasSuffix(name, gzExt),
	}, true
}

func (s *FileStore) GetLatest(ctx context.Context, pipelineID string) (*Checkpoint, error) {
	metas, err := s.List(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	for _, meta := range metas {
		cp, err := s.Load(ctx, meta.ID)
		if err != nil {
			if s.logger != nil {
				s.logger.Errorf("Skipping unloadable checkpoint %s: %v", meta.ID, err)
			}
			continue
		}
		return cp, nil
	}
	return nil, errors.Wrapf(ErrNotFound, "no loadable checkpoint for pipeline %s", pipelineID)
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	names, err := s.fileNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		if !strings.Contains(stem(name), id) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "delete checkpoint %s", id)
		}
	}
	return nil
}

// Rotate applies the three retention rules independently: max count,
// retention window, and cumulative size budget (oldest deleted first).
// Failures are logged and swallowed so rotation never fails a save.
func (s *FileStore) Rotate(ctx context.Context) error {
	metas, err := s.List(ctx, "")
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("Rotation skipped: %v", err)
		}
		return nil
	}

	drop := make(map[string]struct{})

	if s.maxCount > 0 && len(metas) > s.maxCount {
		for _, meta := range metas[s.maxCount:] {
			drop[meta.ID] = struct{}{}
		}
	}

	if s.retention > 0 {
		cutoff := time.Now().Add(-s.retention)
		for _, meta := range metas {
			if meta.Timestamp.Before(cutoff) {
				drop[meta.ID] = struct{}{}
			}
		}
	}

	if s.maxBytes > 0 {
		var total int64
		for _, meta := range metas {
			if _, gone := drop[meta.ID]; !gone {
				total += meta.Size
			}
		}
		// metas is newest-first; walk from the oldest end.
		for i := len(metas) - 1; i >= 0 && total > s.maxBytes; i-- {
			meta := metas[i]
			if _, gone := drop[meta.ID]; gone {
				continue
			}
			drop[meta.ID] = struct{}{}
			total -= meta.Size
		}
	}

	for id := range drop {
		if err := s.Delete(ctx, id); err != nil {
			if s.logger != nil {
				s.logger.Errorf("Rotation failed to delete %s: %v", id, err)
			}
			continue
		}
		if s.logger != nil {
			s.logger.Infof("Rotated out checkpoint %s", id)
		}
	}
	return nil
}

func (s *FileStore) Validate(ctx context.Context, id string) bool {
	cp, err := s.Load(ctx, id)
	if err != nil {
		return false
	}
	return cp.Validate() == nil
}

func stem(name string) string {
	name = strings.TrimSuffix(name, gzExt)
	return strings.TrimSuffix(name, jsonExt)
}

// parseStamp reverses the dash substitution applied by newID.
func parseStamp(stamp string) (time.Time, error) {
	// 2006-01-02T15-04-05-000Z -> 2006-01-02T15:04:05.000Z
	if len(stamp) != 24 {
		return time.Time{}, errors.Errorf("bad stamp %q", stamp)
	}
	b := []byte(stamp)
	b[13], b[16], b[19] = ':', ':', '.'
	return time.Parse("2006-01-02T15:04:05.000Z07:00", string(b))
}
