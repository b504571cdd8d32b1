// Package snapshot persists the schema cache to a durable on-disk
// document and restores it on startup. Saves write to a temporary file in
// the same directory and atomically rename over the previous snapshot, so
// a crash mid-write never corrupts the durable copy. An optional mirror
// replicates the document to an object store.
package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dbcontext-go/dbcontext/internal/errs"
	"github.com/dbcontext-go/dbcontext/internal/logger"
	"github.com/dbcontext-go/dbcontext/internal/metadata"
)

// Version tags the document layout. A loaded snapshot with any other
// version is treated as a cold-start signal, never an upgrade problem to
// solve in place.
const Version = 1

// FileName is the snapshot document name inside the cache directory.
const FileName = "schema-snapshot.json"

// Mirror replicates the snapshot document to secondary storage. Put
// failures are logged and otherwise ignored; Fetch is consulted only when
// no usable local file exists.
type Mirror interface {
	Put(ctx context.Context, data []byte) error
	Fetch(ctx context.Context) ([]byte, error)
}

// document is the persisted layout.
type document struct {
	Version     int                    `json:"version"`
	Generation  uint64                 `json:"generation"`
	GeneratedAt time.Time              `json:"generated_at"`
	Tables      map[string]tableEntry  `json:"tables"`
	Relations   map[string][]relOutput `json:"relationships"`
}

// tableEntry holds one table: its index attributes always, its resolved
// detail only once fetched.
type tableEntry struct {
	Owner  string                `json:"owner,omitempty"`
	Type   string                `json:"type,omitempty"`
	Detail *metadata.TableDetail `json:"detail,omitempty"`
}

type relOutput struct {
	ToTable string                `json:"to_table"`
	Columns []metadata.ColumnPair `json:"columns"`
}

// Store is a metadata.SnapshotStore over one file in a cache directory.
// Saves are serialized behind a single writer.
type Store struct {
	path   string
	mirror Mirror
	log    *logger.Logger
	mu     sync.Mutex
}

// New creates a store rooted at dir. mirror may be nil.
func New(dir string, mirror Mirror, log *logger.Logger) *Store {
	if log == nil {
		log = logger.New(nil)
	}
	return &Store{
		path:   filepath.Join(dir, FileName),
		mirror: mirror,
		log:    log,
	}
}

var _ metadata.SnapshotStore = (*Store)(nil)

// Save atomically replaces the on-disk snapshot with snap, then mirrors
// it best-effort.
func (s *Store) Save(ctx context.Context, snap *metadata.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(encode(snap))
	if err != nil {
		return errs.Wrap(errs.ErrKindUnknown, "snapshot encoding failed", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.ErrKindUnknown, "cannot create cache directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return errs.Wrap(errs.ErrKindUnknown, "cannot create temp snapshot", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.Wrap(errs.ErrKindUnknown, "cannot write temp snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.ErrKindUnknown, "cannot close temp snapshot", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.ErrKindUnknown, "cannot replace snapshot", err)
	}

	if s.mirror != nil {
		if err := s.mirror.Put(ctx, data); err != nil {
			s.log.Warnf("snapshot mirror upload failed: %v", err)
		}
	}
	return nil
}

// Load reads the local snapshot, falling back to the mirror when no local
// file exists. A missing snapshot yields a not_found error; anything
// unreadable or version-mismatched yields snapshot_invalid. Both are
// cold-start signals for the manager, never fatal.
func (s *Store) Load(ctx context.Context) (*metadata.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errs.Wrap(errs.ErrKindSnapshotInvalid, "cannot read snapshot", err)
		}
		if s.mirror == nil {
			return nil, errs.New(errs.ErrKindNotFound, "no snapshot file")
		}
		data, err = s.mirror.Fetch(ctx)
		if err != nil {
			if errs.IsNotFound(err) {
				return nil, errs.New(errs.ErrKindNotFound, "no snapshot file or mirror copy")
			}
			return nil, errs.Wrap(errs.ErrKindSnapshotInvalid, "mirror fetch failed", err)
		}
		s.log.Info("snapshot restored from mirror")
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.ErrKindSnapshotInvalid, "snapshot parse failed", err)
	}
	if doc.Version != Version {
		return nil, errs.Newf(errs.ErrKindSnapshotInvalid, "snapshot version %d, want %d", doc.Version, Version)
	}
	return decode(&doc), nil
}

func encode(snap *metadata.Snapshot) *document {
	doc := &document{
		Version:     Version,
		Generation:  snap.Generation,
		GeneratedAt: snap.GeneratedAt,
		Tables:      make(map[string]tableEntry, len(snap.Tables)),
		Relations:   make(map[string][]relOutput),
	}

	for _, meta := range snap.Tables {
		doc.Tables[metadata.Normalize(meta.Name)] = tableEntry{Owner: meta.Owner, Type: meta.Type}
	}
	for _, d := range snap.Details {
		entry := doc.Tables[d.Name]
		entry.Detail = d
		doc.Tables[d.Name] = entry
	}
	for _, e := range snap.Edges {
		doc.Relations[e.From] = append(doc.Relations[e.From], relOutput{
			ToTable: e.To,
			Columns: e.Columns,
		})
	}
	return doc
}

func decode(doc *document) *metadata.Snapshot {
	snap := &metadata.Snapshot{
		Generation:  doc.Generation,
		GeneratedAt: doc.GeneratedAt,
	}

	for name, entry := range doc.Tables {
		storedName := name
		if entry.Detail != nil && entry.Detail.Name != "" {
			storedName = entry.Detail.Name
		}
		snap.Tables = append(snap.Tables, metadata.TableMeta{
			Name:  storedName,
			Owner: entry.Owner,
			Type:  entry.Type,
		})
		if entry.Detail != nil {
			snap.Details = append(snap.Details, entry.Detail)
		}
	}
	for from, outs := range doc.Relations {
		for _, out := range outs {
			snap.Edges = append(snap.Edges, metadata.RelationshipEdge{
				From:    from,
				To:      out.ToTable,
				Columns: out.Columns,
			})
		}
	}
	return snap
}
