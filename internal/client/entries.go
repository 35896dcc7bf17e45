package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// Entry 是设备本地保存的一天日记，同一日期只保留最后一次。
type Entry struct {
	ID             string    `json:"id"`
	Date           string    `json:"date"`
	Transcript     string    `json:"transcript"`
	EmotionLabel   string    `json:"emotionLabel"`
	EmotionScore   float64   `json:"emotionScore"`
	EmotionValence float64   `json:"emotionValence"`
	Summary        string    `json:"summary"`
	CreatedAt      time.Time `json:"createdAt"`
}

// EntryStore 把全部日记存成单个 JSON 数组文件。
// 与服务端会话存储互相独立，不做同步。
type EntryStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewEntryStore(path string) *EntryStore {
	return &EntryStore{path: path, now: time.Now}
}

// Path 返回存储文件路径。
func (s *EntryStore) Path() string {
	return s.path
}

// Load 读取全部日记，文件不存在时返回空列表。
func (s *EntryStore) Load() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Save 写入一条日记，覆盖同一日期的旧记录。ID 与 CreatedAt 由存储分配。
func (s *EntryStore) Save(entry Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return Entry{}, err
	}

	entry.ID = uuid.NewString()
	entry.CreatedAt = s.now().UTC()

	kept := entries[:0]
	for _, e := range entries {
		if e.Date != entry.Date {
			kept = append(kept, e)
		}
	}
	kept = append(kept, entry)

	if err := writeJSONFileAtomic(s.path, kept); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Weekly 返回最近 7 天（含今天）的日记，按日期升序。
func (s *EntryStore) Weekly(now time.Time) ([]Entry, error) {
	entries, err := s.Load()
	if err != nil {
		return nil, err
	}

	since := time.Date(now.Year(), now.Month(), now.Day()-6, 0, 0, 0, 0, now.Location()).Format(dateLayout)
	today := now.Format(dateLayout)

	var week []Entry
	for _, e := range entries {
		// YYYY-MM-DD 的字典序与日期顺序一致
		if e.Date >= since && e.Date <= today {
			week = append(week, e)
		}
	}
	sort.Slice(week, func(i, j int) bool { return week[i].Date < week[j].Date })
	return week, nil
}

func (s *EntryStore) load() ([]Entry, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}
	if len(raw) == 0 {
		return []Entry{}, nil
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode entries %s: %w", s.path, err)
	}
	return entries, nil
}

// writeJSONFileAtomic 先写同目录临时文件再重命名，避免写到一半的文件。
func writeJSONFileAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create entries dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".entries_*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write entries: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync entries: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close entries: %w", err)
	}
	return os.Rename(tmpName, path)
}
