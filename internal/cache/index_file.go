package cache

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.trai.ch/zerr"
)

const indexFileName = ".index.json"

var errIndexCorrupt = zerr.New("cache index corrupt")

type indexRecord struct {
	TotalSizeBytes int64                  `json:"totalSizeBytes"`
	Entries        map[string]recordEntry `json:"entries"`
}

type recordEntry struct {
	SizeBytes            int64 `json:"sizeBytes"`
	LastAccessedAtMillis int64 `json:"lastAccessedAtMillis"`
}

// indexSource 标记索引的来源，便于启动日志区分是否发生了重建。
type indexSource int

const (
	indexFromRecord indexSource = iota
	indexRebuiltMissing
	indexRebuiltCorrupt
)

func (s indexSource) String() string {
	switch s {
	case indexRebuiltMissing:
		return "rebuilt_missing"
	case indexRebuiltCorrupt:
		return "rebuilt_corrupt"
	default:
		return "record"
	}
}

// loadIndex 优先读取 .index.json；记录缺失或无法解析时扫描目录重建。
// 记录中的 totalSizeBytes 不被信任，总量始终由条目重新累加。
func loadIndex(dir string) (map[string]Entry, indexSource, error) {
	entries, missing, err := readIndexFile(filepath.Join(dir, indexFileName))
	if err == nil {
		return entries, indexFromRecord, nil
	}

	source := indexRebuiltCorrupt
	if missing {
		source = indexRebuiltMissing
	}
	scanned, scanErr := scanDir(dir)
	if scanErr != nil {
		return nil, source, scanErr
	}
	return scanned, source, nil
}

func readIndexFile(path string) (map[string]Entry, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, true, err
		}
		return nil, false, zerr.Wrap(err, "read cache index")
	}

	var rec indexRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, zerr.With(zerr.Wrap(err, errIndexCorrupt.Error()), "path", path)
	}
	if rec.Entries == nil {
		return nil, false, zerr.With(errIndexCorrupt, "path", path)
	}

	entries := make(map[string]Entry, len(rec.Entries))
	for name, item := range rec.Entries {
		if !isBlobName(name) || item.SizeBytes < 0 {
			return nil, false, zerr.With(zerr.With(errIndexCorrupt, "path", path), "entry", name)
		}
		entries[name] = Entry{
			Name:       name,
			SizeBytes:  item.SizeBytes,
			LastAccess: time.UnixMilli(item.LastAccessedAtMillis),
		}
	}
	return entries, false, nil
}

// scanDir 以文件大小与 mtime 重建索引，跳过索引记录、临时文件与子目录。
func scanDir(dir string) (map[string]Entry, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "scan cache dir"), "dir", dir)
	}

	entries := make(map[string]Entry, len(items))
	for _, item := range items {
		name := item.Name()
		if item.IsDir() || !isBlobName(name) {
			continue
		}
		info, err := item.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, zerr.With(zerr.Wrap(err, "stat cache blob"), "name", name)
		}
		entries[name] = Entry{
			Name:       name,
			SizeBytes:  info.Size(),
			LastAccess: info.ModTime(),
		}
	}
	return entries, nil
}

func isBlobName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return false
	}
	for _, suffix := range blobSuffixes {
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			return true
		}
	}
	return false
}

func writeIndexFile(dir string, rec indexRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return zerr.Wrap(err, "encode cache index")
	}

	tempFile, err := os.CreateTemp(dir, ".index-*")
	if err != nil {
		return zerr.With(zerr.Wrap(err, "create cache index temp"), "dir", dir)
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(raw)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return zerr.Wrap(err, "write cache index")
	}

	if err := os.Rename(tempName, filepath.Join(dir, indexFileName)); err != nil {
		os.Remove(tempName)
		return zerr.Wrap(err, "replace cache index")
	}
	return nil
}

// persister 是唯一的索引落盘协程。signal 容量为 1，
// 落盘期间到来的多次变更合并为下一次写入。
type persister struct {
	dir    string
	index  *Index
	logger *logrus.Logger

	signal chan struct{}
	stop   chan struct{}
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	lastErr   error
}

func newPersister(dir string, index *Index, logger *logrus.Logger) *persister {
	return &persister{
		dir:    dir,
		index:  index,
		logger: logger,
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (p *persister) start() {
	p.startOnce.Do(func() {
		go p.run()
	})
}

func (p *persister) notify() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.done)
	for {
		select {
		case <-p.signal:
			p.flush()
		case <-p.stop:
			p.lastErr = p.flush()
			return
		}
	}
}

func (p *persister) flush() error {
	err := writeIndexFile(p.dir, p.index.record())
	if err != nil {
		p.logger.WithError(err).WithField("dir", p.dir).Warn("cache_index_persist_failed")
	}
	return err
}

// close 停止协程并同步完成最后一次落盘。
func (p *persister) close() error {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
	p.start()
	<-p.done
	return p.lastErr
}
