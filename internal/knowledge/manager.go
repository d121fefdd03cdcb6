package knowledge

import (
	"sync"

	"go.uber.org/zap"

	"github.com/aihub/rag-engine/internal/logger"
)

// IndexManager 管理所有租户的索引句柄：每个租户一个单例句柄，
// 懒加载，外加按租户的写锁供调用方串行化写路径。
type IndexManager struct {
	root     string
	embedder Embedder
	logger   *zap.Logger

	mu      sync.Mutex
	handles map[string]*VectorIndex
	locks   map[string]*sync.Mutex
}

// NewIndexManager 创建索引管理器
func NewIndexManager(root string, embedder Embedder) *IndexManager {
	return &IndexManager{
		root:     root,
		embedder: embedder,
		logger:   logger.GetLogger(),
		handles:  make(map[string]*VectorIndex),
		locks:    make(map[string]*sync.Mutex),
	}
}

// TenantLock 返回租户的写锁。同一租户的Upsert/Persist/Delete
// 必须在持有该锁的情况下执行，避免合并丢失或持久化状态损坏。
func (m *IndexManager) TenantLock(tenantID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[tenantID] = lock
	}
	return lock
}

// Load 获取租户索引句柄。索引不存在时返回 (nil, false)。
// 持久化文件损坏时记录日志并降级为"无索引"，不向调用方传播错误。
func (m *IndexManager) Load(tenantID string) (*VectorIndex, bool) {
	m.mu.Lock()
	if idx, ok := m.handles[tenantID]; ok {
		m.mu.Unlock()
		return idx, true
	}
	m.mu.Unlock()

	idx, err := LoadIndex(m.root, tenantID, m.embedder)
	if err != nil {
		m.logger.Warn("Vector index load failed, treating as missing",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return nil, false
	}
	if idx == nil {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// 另一个goroutine可能已经加载过
	if existing, ok := m.handles[tenantID]; ok {
		return existing, true
	}
	m.handles[tenantID] = idx
	return idx, true
}

// GetOrCreate 获取租户索引句柄，不存在时创建空索引（首次摄取路径）
func (m *IndexManager) GetOrCreate(tenantID string) *VectorIndex {
	if idx, ok := m.Load(tenantID); ok {
		return idx
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.handles[tenantID]; ok {
		return idx
	}
	idx := NewIndex(m.root, tenantID, m.embedder)
	m.handles[tenantID] = idx
	return idx
}

// DiscardIfEmpty 丢弃从未写入过向量的内存句柄。
// 首次摄取失败后调用，避免把空索引当作"已有索引"。
func (m *IndexManager) DiscardIfEmpty(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.handles[tenantID]; ok && len(idx.vectors) == 0 {
		delete(m.handles, tenantID)
	}
}

// Discard 无条件丢弃租户的内存句柄，下次访问时从磁盘重新加载。
// 持久化失败后调用，保证检索结果不会偏离磁盘上的状态。
func (m *IndexManager) Discard(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handles, tenantID)
}

// Delete 删除租户索引：移除持久化文件并清除内存句柄。
// 删除后该租户的检索表现为"无索引"（空结果），不报错。
func (m *IndexManager) Delete(tenantID string) error {
	idx, ok := m.Load(tenantID)
	if !ok {
		return nil
	}

	err := idx.Delete()

	m.mu.Lock()
	delete(m.handles, tenantID)
	m.mu.Unlock()

	return err
}

// Stats 返回租户索引统计，索引不存在时返回零值统计
func (m *IndexManager) Stats(tenantID string) IndexStats {
	idx, ok := m.Load(tenantID)
	if !ok {
		return IndexStats{}
	}
	return idx.Stats()
}
