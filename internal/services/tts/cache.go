package tts

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const cacheExt = ".pcm"

// Cache keeps synthesized PCM on disk and evicts least recently used
// clips once the directory grows past maxBytes.
type Cache struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	used     int64
	order    *list.List // front is most recent
	index    map[string]*list.Element
	logger   *zap.Logger
}

type cacheEntry struct {
	key  string
	size int64
}

// NewCache opens (creating if needed) a cache directory and indexes any clips
// left by a previous run, oldest modification time first.
func NewCache(dir string, maxBytes int64, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tts cache: create dir: %w", err)
	}
	c := &Cache{
		dir:      dir,
		maxBytes: maxBytes,
		order:    list.New(),
		index:    make(map[string]*list.Element),
		logger:   logger.Named("tts_cache"),
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns the cached clip for key.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		c.logger.Warn("dropping unreadable cache entry", zap.String("key", key), zap.Error(err))
		c.remove(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return data, true
}

// Put stores data under key. Clips larger than the whole cache are skipped.
func (c *Cache) Put(key string, data []byte) error {
	size := int64(len(data))
	if size > c.maxBytes {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.remove(el)
	}
	c.evictFor(size)

	if err := os.WriteFile(c.path(key), data, 0o644); err != nil {
		return fmt.Errorf("tts cache: write: %w", err)
	}
	c.index[key] = c.order.PushFront(&cacheEntry{key: key, size: size})
	c.used += size
	return nil
}

// Len reports the number of cached clips.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Size reports the bytes currently held.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Key derives a stable cache key from everything that changes the audio.
func Key(text string, voice Voice, sampleRate int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "text=%s\nmodel=%s\nvoice=%s\nlang=%s\nrate=%d\n",
		text, voice.Model, voice.ID, voice.LanguageCode, sampleRate)
	writeFloat(&b, "stability", voice.Stability)
	writeFloat(&b, "similarity_boost", voice.SimilarityBoost)
	writeFloat(&b, "speed", voice.Speed)
	if voice.OptimizeLatency != nil {
		fmt.Fprintf(&b, "optimize_streaming_latency=%d\n", *voice.OptimizeLatency)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeFloat(b *strings.Builder, name string, v *float64) {
	if v != nil {
		fmt.Fprintf(b, "%s=%f\n", name, *v)
	}
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+cacheExt)
}

// remove drops an entry and its file. Caller holds mu.
func (c *Cache) remove(el *list.Element) {
	e := c.order.Remove(el).(*cacheEntry)
	delete(c.index, e.key)
	c.used -= e.size
	if err := os.Remove(c.path(e.key)); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("remove cache file", zap.String("key", e.key), zap.Error(err))
	}
}

// evictFor frees room for extra bytes. Caller holds mu.
func (c *Cache) evictFor(extra int64) {
	for c.used+extra > c.maxBytes {
		back := c.order.Back()
		if back == nil {
			return
		}
		e := back.Value.(*cacheEntry)
		c.remove(back)
		c.logger.Debug("evicted cache entry", zap.String("key", e.key), zap.Int64("size", e.size))
	}
}

func (c *Cache) load() error {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("tts cache: read dir: %w", err)
	}

	type found struct {
		key  string
		size int64
		mod  int64
	}
	var files []found
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, cacheExt) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		files = append(files, found{
			key:  strings.TrimSuffix(name, cacheExt),
			size: info.Size(),
			mod:  info.ModTime().UnixNano(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod < files[j].mod })

	for _, f := range files {
		c.index[f.key] = c.order.PushFront(&cacheEntry{key: f.key, size: f.size})
		c.used += f.size
	}
	if len(files) > 0 {
		c.logger.Info("loaded cached clips", zap.Int("count", len(files)), zap.Int64("bytes", c.used))
		c.evictFor(0)
	}
	return nil
}
