package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// NewStore 以 opts.Dir 为根目录构建磁盘缓存，整站复用一份实例。
// 启动时加载或重建索引，并启动索引落盘协程；SweepInterval > 0 时同时启动后台淘汰。
func NewStore(opts Options) (Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("cache dir required")
	}

	abs, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	entries, source, err := loadIndex(abs)
	if err != nil {
		return nil, fmt.Errorf("load cache index: %w", err)
	}

	store := &diskStore{
		dir:      abs,
		maxBytes: opts.MaxBytes,
		index:    newIndex(entries),
		logger:   logger,
		now:      now,
		locks:    make(map[string]*entryLock),
	}
	store.persist = newPersister(abs, store.index, logger)
	store.index.onChange = store.persist.notify
	store.evictor = newEvictor(store.index, store, EvictorOptions{
		MaxBytes:    opts.MaxBytes,
		MaxAge:      opts.MaxAge,
		Interval:    opts.SweepInterval,
		Logger:      logger,
		Now:         now,
		BeforeSweep: store.beforeSweep,
	})

	fields := logrus.Fields{
		"action":      "cache_index_load",
		"dir":         abs,
		"source":      source.String(),
		"entries":     store.index.Len(),
		"total_bytes": store.index.Total(),
	}
	if source == indexRebuiltCorrupt {
		logger.WithFields(fields).Warn("cache_index_rebuilt")
	} else {
		logger.WithFields(fields).Info("cache_index_loaded")
	}

	store.persist.start()
	if source != indexFromRecord {
		store.persist.notify()
	} else {
		// 记录可能落后于目录：上次落盘之后写入的正文需要补登记。
		store.reconcile()
	}
	if opts.MaxBytes > 0 && store.index.Total() > opts.MaxBytes {
		store.evictor.ReduceToBudget(context.Background())
	}
	if opts.SweepInterval > 0 {
		store.evictor.Start()
	}
	return store, nil
}

// diskStore 通过 entryLock 串行化同一文件的写入与删除；读取依赖 rename 的原子性，不加锁。
type diskStore struct {
	dir      string
	maxBytes int64
	index    *Index
	persist  *persister
	evictor  *Evictor
	logger   *logrus.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock

	closeOnce sync.Once
	closeErr  error
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *diskStore) Get(ctx context.Context, key Key) (Blob, bool, error) {
	if err := ctx.Err(); err != nil {
		return Blob{}, false, err
	}

	name := key.Name()
	data, info, err := readBlob(s.blobPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.dropStale(name)
			return Blob{}, false, nil
		}
		return Blob{}, false, err
	}

	entry, tracked := s.index.Lookup(name)
	if !tracked {
		entry = Entry{Name: name, SizeBytes: info.Size(), LastAccess: info.ModTime()}
		total := s.index.Upsert(entry)
		s.logger.WithFields(logrus.Fields{"name": name, "size": entry.SizeBytes}).Debug("cache_entry_adopted")
		defer s.enforceBudget(ctx, total)
	}

	entry.LastAccess = s.now()
	entry.ModTime = info.ModTime()
	s.index.Touch(name, entry.LastAccess)
	return Blob{Entry: entry, Data: data}, true, nil
}

func (s *diskStore) Put(ctx context.Context, key Key, data []byte) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	name := key.Name()
	unlock := s.lockEntry(name)
	now := s.now()
	if err := writeAtomic(s.dir, s.blobPath(name), data, now); err != nil {
		unlock()
		return Entry{}, err
	}
	entry := Entry{
		Name:       name,
		SizeBytes:  int64(len(data)),
		LastAccess: now,
	}
	total := s.index.Upsert(entry)
	unlock()

	s.enforceBudget(ctx, total)
	entry.ModTime = now
	return entry, nil
}

func (s *diskStore) Touch(key Key) {
	s.index.Touch(key.Name(), s.now())
}

func (s *diskStore) Remove(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := key.Name()
	unlock := s.lockEntry(name)
	defer unlock()

	s.index.Remove(name)
	return s.deleteBlob(name)
}

func (s *diskStore) Sweep(ctx context.Context) SweepReport {
	return s.evictor.Sweep(ctx)
}

func (s *diskStore) Stats() Stats {
	return Stats{
		Dir:        s.dir,
		Entries:    s.index.Len(),
		TotalBytes: s.index.Total(),
		MaxBytes:   s.maxBytes,
	}
}

func (s *diskStore) Close() error {
	s.closeOnce.Do(func() {
		s.evictor.Stop()
		s.closeErr = s.persist.close()
	})
	return s.closeErr
}

// dropStale 在文件缺失时移除索引条目；持锁复查，避免误删并发写入的新条目。
func (s *diskStore) dropStale(name string) bool {
	if _, ok := s.index.Lookup(name); !ok {
		return false
	}
	unlock := s.lockEntry(name)
	defer unlock()

	if _, err := os.Stat(s.blobPath(name)); !errors.Is(err, fs.ErrNotExist) {
		return false
	}
	entry, ok := s.index.Remove(name)
	if ok {
		s.logger.WithFields(logrus.Fields{"name": name, "size": entry.SizeBytes}).Warn("cache_stale_entry_removed")
	}
	return ok
}

// adoptUntracked 将目录中存在但索引未登记的正文补入索引，访问时间取文件 mtime。
func (s *diskStore) adoptUntracked(entry Entry) bool {
	if _, ok := s.index.Lookup(entry.Name); ok {
		return false
	}
	unlock := s.lockEntry(entry.Name)
	defer unlock()

	if _, ok := s.index.Lookup(entry.Name); ok {
		return false
	}
	if _, err := os.Stat(s.blobPath(entry.Name)); err != nil {
		return false
	}
	s.index.Upsert(entry)
	return true
}

func (s *diskStore) beforeSweep(context.Context) {
	s.reconcile()
}

// reconcile 以目录为准校正索引：补登记未跟踪的正文，移除文件已缺失的条目。
func (s *diskStore) reconcile() {
	onDisk, err := scanDir(s.dir)
	if err != nil {
		s.logger.WithError(err).WithField("dir", s.dir).Warn("cache_reconcile_failed")
		return
	}

	adopted, dropped := 0, 0
	for _, entry := range onDisk {
		if s.adoptUntracked(entry) {
			adopted++
		}
	}
	for _, entry := range s.index.Snapshot() {
		if _, ok := onDisk[entry.Name]; ok {
			continue
		}
		if s.dropStale(entry.Name) {
			dropped++
		}
	}

	if adopted > 0 || dropped > 0 {
		s.logger.WithFields(logrus.Fields{
			"action":      "cache_reconcile",
			"adopted":     adopted,
			"dropped":     dropped,
			"total_bytes": s.index.Total(),
		}).Info("cache_reconciled")
	}
}

func (s *diskStore) enforceBudget(ctx context.Context, total int64) {
	if s.maxBytes > 0 && total > s.maxBytes {
		s.evictor.ReduceToBudget(ctx)
	}
}

// deleteBlob 删除正文文件，文件已不存在视为成功。调用方需持有对应 entryLock。
func (s *diskStore) deleteBlob(name string) error {
	if err := os.Remove(s.blobPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *diskStore) lockEntry(name string) func() {
	s.mu.Lock()
	lock := s.locks[name]
	if lock == nil {
		lock = &entryLock{}
		s.locks[name] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, name)
		}
		s.mu.Unlock()
	}
}

func (s *diskStore) blobPath(name string) string {
	return filepath.Join(s.dir, name)
}

func readBlob(filePath string) ([]byte, fs.FileInfo, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return nil, nil, fs.ErrNotExist
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, err
	}
	return data, info, nil
}

// writeAtomic 先写入同目录临时文件再 rename，失败时清理临时文件。
func writeAtomic(dir, filePath string, data []byte, modTime time.Time) error {
	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chtimes(tempName, modTime, modTime)
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}
