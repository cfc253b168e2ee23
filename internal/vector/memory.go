package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/uttree/internal/models"
	"github.com/hyperjump/uttree/pkg/utils"
)

// MemoryIndex is an exact brute-force index. Writers take the write lock;
// queries take the read lock and scan a consistent snapshot. Vectors are
// copied in and out so callers never share backing arrays with the index.
type MemoryIndex struct {
	dimensions int
	metric     Metric
	pos        map[string]int
	ids        []string
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory index with the given dimension and metric.
func NewMemoryIndex(dimensions int, metric Metric) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	metric, err := ParseMetric(string(metric))
	if err != nil {
		return nil, err
	}
	return &MemoryIndex{
		dimensions: dimensions,
		metric:     metric,
		pos:        make(map[string]int),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

func (m *MemoryIndex) Dimensions() int { return m.dimensions }
func (m *MemoryIndex) Metric() Metric { return m.metric }

func (m *MemoryIndex) checkDim(v []float32) error {
	if len(v) != m.dimensions {
		return &models.DimensionMismatchError{Want: m.dimensions, Got: len(v)}
	}
	return nil
}

// Upsert inserts or overwrites the vector for id.
func (m *MemoryIndex) Upsert(ctx context.Context, id string, vector []float32) (UpsertResult, error) {
	if id == "" {
		return UpsertResult{}, fmt.Errorf("id cannot be empty")
	}
	if err := m.checkDim(vector); err != nil {
		return UpsertResult{}, err
	}
	vec := make([]float32, m.dimensions)
	copy(vec, vector)

	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.pos[id]; ok {
		m.vectors[i] = vec
		return UpsertResult{Duplicate: true}, nil
	}
	m.pos[id] = len(m.ids)
	m.ids = append(m.ids, id)
	m.vectors = append(m.vectors, vec)
	return UpsertResult{}, nil
}

// Query returns the k nearest entries to vector.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int) ([]Neighbor, error) {
	if err := m.checkDim(vector); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.ids) == 0 {
		return nil, models.ErrEmptyIndex
	}
	if k <= 0 {
		return nil, nil
	}
	scored := make([]Neighbor, len(m.ids))
	for i, vec := range m.vectors {
		scored[i] = Neighbor{ID: m.ids[i], Distance: m.metric.Distance(vector, vec)}
	}
	sortNeighbors(scored)
	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k:k], nil
}

// Delete removes id. The last entry is swapped into the freed slot.
func (m *MemoryIndex) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.pos[id]
	if !ok {
		return nil
	}
	last := len(m.ids) - 1
	if i != last {
		m.ids[i] = m.ids[last]
		m.vectors[i] = m.vectors[last]
		m.pos[m.ids[i]] = i
	}
	m.ids = m.ids[:last]
	m.vectors[last] = nil
	m.vectors = m.vectors[:last]
	delete(m.pos, id)
	return nil
}

// Get returns a copy of the vector stored for id.
func (m *MemoryIndex) Get(ctx context.Context, id string) ([]float32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.pos[id]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), m.vectors[i]...), true
}

const (
	snapshotMagic   = "UTVI"
	snapshotVersion = 1
)

// Save writes a snapshot to path atomically (temp file + rename). Entries
// are written in id order so equal indexes produce identical files.
// Format: magic, version, metric, dimension, count, then per entry
// idLen, id bytes, dimension little-endian float32s.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := m.writeSnapshot(w); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

func (m *MemoryIndex) writeSnapshot(w io.Writer) error {
	order := make([]int, len(m.ids))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return m.ids[order[a]] < m.ids[order[b]] })

	if _, err := io.WriteString(w, snapshotMagic); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	header := []uint32{snapshotVersion, uint32(len(m.metric))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := io.WriteString(w, string(m.metric)); err != nil {
		return fmt.Errorf("write metric: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, []uint32{uint32(m.dimensions), uint32(len(m.ids))}); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	for _, i := range order {
		id := m.ids[i]
		if err := binary.Write(w, binary.LittleEndian, uint32(len(id))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := io.WriteString(w, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(utils.Float32sToBytes(m.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load replaces the index contents with the snapshot at path. Dimension and
// metric must match. A missing file leaves the index unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != snapshotMagic {
		return fmt.Errorf("read index file %s: not a snapshot", path)
	}
	var header [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if header[0] != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", header[0])
	}
	metric := make([]byte, header[1])
	if _, err := io.ReadFull(r, metric); err != nil {
		return fmt.Errorf("read metric: %w", err)
	}
	if Metric(metric) != m.metric {
		return fmt.Errorf("metric mismatch: file has %s, index uses %s", metric, m.metric)
	}
	var dims [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &dims); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dims[0]) != m.dimensions {
		return fmt.Errorf("%w: file has %d, index expects %d", models.ErrDimensionMismatch, dims[0], m.dimensions)
	}
	n := int(dims[1])

	ids := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	pos := make(map[string]int, n)
	buf := make([]byte, m.dimensions*4)
	for i := 0; i < n; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("read id len: %w", err)
		}
		id := make([]byte, idLen)
		if _, err := io.ReadFull(r, id); err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		pos[string(id)] = len(ids)
		ids = append(ids, string(id))
		vectors = append(vectors, utils.BytesToFloat32s(buf))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids, m.vectors, m.pos = ids, vectors, pos
	return nil
}

// Size returns the number of entries.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
