package knowledge

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	apperrors "github.com/aihub/rag-engine/internal/errors"
)

const (
	indexFileName    = "index.rag"
	indexTmpFileName = "index.rag.tmp"
)

// 索引文件头魔数，变更存储格式时递增版本号
var indexMagic = []byte("RAGIDX01")

// IndexStats 索引统计信息
type IndexStats struct {
	Indexed      bool `json:"indexed"`
	TotalVectors int  `json:"total_vectors"`
	Dimension    int  `json:"dimension,omitempty"`
}

// SearchResult 相似度检索结果。Score为L2距离平方：越小越相关。
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// VectorIndex 单租户向量索引：平面L2索引 + 块内容，整体持久化到单个文件。
// 写操作（Upsert/Persist/Delete）不在内部做并发保护，调用方须按租户串行化。
type VectorIndex struct {
	tenantID  string
	dir       string
	embedder  Embedder
	dimension int
	vectors   [][]float32
	chunks    []Chunk
}

// NewIndex 创建空索引（尚未持久化）
func NewIndex(root, tenantID string, embedder Embedder) *VectorIndex {
	return &VectorIndex{
		tenantID: tenantID,
		dir:      filepath.Join(root, tenantID),
		embedder: embedder,
	}
}

// LoadIndex 从磁盘加载租户索引。
// 索引不存在时返回 (nil, nil)；文件损坏时返回IndexLoadError，
// 调用方应记录日志并降级为"无索引"。
func LoadIndex(root, tenantID string, embedder Embedder) (*VectorIndex, error) {
	idx := NewIndex(root, tenantID, embedder)
	path := filepath.Join(idx.dir, indexFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.NewIndexLoadError(err)
	}

	if err := idx.decodeSnapshot(data); err != nil {
		return nil, apperrors.NewIndexLoadError(err)
	}
	return idx, nil
}

// TenantID 返回索引所属租户
func (idx *VectorIndex) TenantID() string {
	return idx.tenantID
}

// Upsert 向量化并合并一批块。合并是追加式的：既有向量全部保留，
// 重复内容产生重复条目。向量化失败时索引不发生任何变化。
func (idx *VectorIndex) Upsert(ctx context.Context, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, apperrors.NewEmbeddingError(err)
	}

	// 维度必须与索引既有向量一致：不同嵌入模型不可混用
	expected := idx.dimension
	if expected == 0 {
		expected = len(vectors[0])
	}
	for _, vector := range vectors {
		if len(vector) != expected {
			return 0, apperrors.NewEmbeddingError(
				fmt.Errorf("embedding dimension mismatch: index has %d, got %d", expected, len(vector)))
		}
	}

	idx.dimension = expected
	idx.vectors = append(idx.vectors, vectors...)
	idx.chunks = append(idx.chunks, chunks...)
	return len(chunks), nil
}

// Search 返回与查询最相近的至多k个块，按距离升序排列。
// scoreThreshold非nil时仅保留 score <= *scoreThreshold 的结果。
func (idx *VectorIndex) Search(ctx context.Context, query string, k int, scoreThreshold *float64) ([]SearchResult, error) {
	if idx == nil || len(idx.vectors) == 0 {
		return nil, nil
	}
	if k <= 0 {
		return nil, nil
	}

	queryVector, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperrors.NewEmbeddingError(err)
	}
	if len(queryVector) != idx.dimension {
		return nil, apperrors.NewEmbeddingError(
			fmt.Errorf("query embedding dimension mismatch: index has %d, got %d", idx.dimension, len(queryVector)))
	}

	type scored struct {
		pos   int
		score float64
	}
	candidates := make([]scored, 0, len(idx.vectors))
	for i, vector := range idx.vectors {
		candidates = append(candidates, scored{pos: i, score: l2Squared(queryVector, vector)})
	}

	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score < candidates[b].score
		}
		return candidates[a].pos < candidates[b].pos
	})

	results := make([]SearchResult, 0, k)
	for _, candidate := range candidates {
		if len(results) == k {
			break
		}
		if scoreThreshold != nil && candidate.score > *scoreThreshold {
			break
		}
		results = append(results, SearchResult{
			Chunk: idx.chunks[candidate.pos],
			Score: candidate.score,
		})
	}
	return results, nil
}

// Persist 将索引完整写入磁盘，覆盖之前的持久化状态。
// 写入临时文件后原子改名，状态未变时重复调用产生字节一致的文件。
func (idx *VectorIndex) Persist() error {
	data, err := idx.encodeSnapshot()
	if err != nil {
		return fmt.Errorf("encode index snapshot: %w", err)
	}

	if err := os.MkdirAll(idx.dir, 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmpPath := filepath.Join(idx.dir, indexTmpFileName)
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write index snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(idx.dir, indexFileName)); err != nil {
		return fmt.Errorf("commit index snapshot: %w", err)
	}
	return nil
}

// Delete 删除持久化状态并清空内存中的向量
func (idx *VectorIndex) Delete() error {
	idx.vectors = nil
	idx.chunks = nil
	idx.dimension = 0
	if err := os.RemoveAll(idx.dir); err != nil {
		return fmt.Errorf("remove index directory: %w", err)
	}
	return nil
}

// Stats 返回索引统计
func (idx *VectorIndex) Stats() IndexStats {
	if idx == nil {
		return IndexStats{}
	}
	return IndexStats{
		Indexed:      true,
		TotalVectors: len(idx.vectors),
		Dimension:    idx.dimension,
	}
}

// encodeSnapshot 序列化索引。布局：
// magic(8) | dimension(u32) | count(u32) | count*dimension个float32 | metaLen(u32) | 块JSON
// 全部小端。json.Marshal对map键排序，因此相同状态编码结果字节一致。
func (idx *VectorIndex) encodeSnapshot() ([]byte, error) {
	meta, err := json.Marshal(idx.chunks)
	if err != nil {
		return nil, err
	}

	buf := bytes.NewBuffer(make([]byte, 0, len(indexMagic)+12+len(idx.vectors)*idx.dimension*4+len(meta)))
	buf.Write(indexMagic)

	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], uint32(idx.dimension))
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint32(scratch[:], uint32(len(idx.vectors)))
	buf.Write(scratch[:])

	for _, vector := range idx.vectors {
		for _, v := range vector {
			binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(v))
			buf.Write(scratch[:])
		}
	}

	binary.LittleEndian.PutUint32(scratch[:], uint32(len(meta)))
	buf.Write(scratch[:])
	buf.Write(meta)

	return buf.Bytes(), nil
}

func (idx *VectorIndex) decodeSnapshot(data []byte) error {
	headerLen := len(indexMagic) + 8
	if len(data) < headerLen {
		return fmt.Errorf("index file truncated: %d bytes", len(data))
	}
	if !bytes.Equal(data[:len(indexMagic)], indexMagic) {
		return fmt.Errorf("index file has invalid magic header")
	}

	offset := len(indexMagic)
	dimension := int(binary.LittleEndian.Uint32(data[offset:]))
	count := int(binary.LittleEndian.Uint32(data[offset+4:]))
	offset += 8

	// 头部声明的规模必须被文件实际长度覆盖，否则损坏的头部会在
	// 分配阶段拖垮整个进程。所有检查都在分配之前，乘法不会溢出：
	// dimension和count先各自以remaining/4为上界。
	remaining := len(data) - offset
	if dimension < 0 || count < 0 || dimension > remaining/4 || count > remaining/4 {
		return fmt.Errorf("index file header implausible: %d vectors of dimension %d in %d bytes",
			count, dimension, len(data))
	}
	vectorBytes := 0
	if dimension > 0 {
		if count > remaining/(dimension*4) {
			return fmt.Errorf("index file truncated: expected %d vectors of dimension %d", count, dimension)
		}
		vectorBytes = count * dimension * 4
	}
	if len(data) < offset+vectorBytes+4 {
		return fmt.Errorf("index file truncated: expected %d vectors of dimension %d", count, dimension)
	}

	vectors := make([][]float32, count)
	for i := 0; i < count; i++ {
		vector := make([]float32, dimension)
		for j := 0; j < dimension; j++ {
			bits := binary.LittleEndian.Uint32(data[offset:])
			vector[j] = math.Float32frombits(bits)
			offset += 4
		}
		vectors[i] = vector
	}

	metaLen := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	if len(data) < offset+metaLen {
		return fmt.Errorf("index file truncated: metadata section incomplete")
	}

	var chunks []Chunk
	if err := json.Unmarshal(data[offset:offset+metaLen], &chunks); err != nil {
		return fmt.Errorf("decode chunk metadata: %w", err)
	}
	if len(chunks) != count {
		return fmt.Errorf("index file inconsistent: %d vectors but %d chunks", count, len(chunks))
	}

	idx.dimension = dimension
	idx.vectors = vectors
	idx.chunks = chunks
	return nil
}

func l2Squared(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
