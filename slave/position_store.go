package slave

import (
	"os"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"

	"github.com/binlogkit/slave/mysql"
)

// storedPosition is FilePositionStore's on-disk shape: a Position flattened
// to TOML-representable fields (mysql.GTIDSet has no TOML mapping of its
// own, so it round-trips through its canonical text form instead).
type storedPosition struct {
	LogName string `toml:"log_name"`
	LogPos  uint32 `toml:"log_pos"`
	GTIDSet string `toml:"gtid_set"`
}

// FilePositionStore is the opt-in concrete LoadMasterPosition/
// SaveMasterPosition implementation spec.md §6 leaves as a pluggable
// collaborator: a small TOML file holding the last position durably saved,
// read at startup and overwritten on every save. Callers wire it in with
// StateObserver.SetPositionStore; nothing uses it unless they do.
type FilePositionStore struct {
	mu   sync.Mutex
	path string
}

// NewFilePositionStore returns a store backed by the TOML file at path. The
// file need not exist yet; Load reports "nothing saved" until the first
// Save.
func NewFilePositionStore(path string) *FilePositionStore {
	return &FilePositionStore{path: path}
}

// Load reads the last saved position, reporting false if the file does not
// exist or holds no log name yet.
func (s *FilePositionStore) Load() (mysql.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored storedPosition
	if _, err := toml.DecodeFile(s.path, &stored); err != nil {
		return mysql.Position{}, false
	}
	if stored.LogName == "" {
		return mysql.Position{}, false
	}

	pos := mysql.NewPosition(stored.LogName, stored.LogPos)
	if stored.GTIDSet != "" {
		gset, err := mysql.ParseGTIDSet(stored.GTIDSet)
		if err == nil {
			pos.GTIDSet = gset
		}
	}
	return pos, true
}

// Save overwrites the store's file with p, best-effort: a failed save is
// not fatal to the replication session, only to crash recovery, and is
// reported through the returned error for the embedder to log.
func (s *FilePositionStore) Save(p mysql.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := storedPosition{LogName: p.LogName, LogPos: p.LogPos}
	if p.GTIDSet != nil && !p.GTIDSet.IsEmpty() {
		stored.GTIDSet = p.GTIDSet.String()
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Annotate(err, "slave: creating position store temp file")
	}
	if err := toml.NewEncoder(f).Encode(stored); err != nil {
		f.Close()
		return errors.Annotate(err, "slave: encoding position store")
	}
	if err := f.Close(); err != nil {
		return errors.Annotate(err, "slave: closing position store temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Annotate(err, "slave: installing position store file")
	}
	return nil
}
