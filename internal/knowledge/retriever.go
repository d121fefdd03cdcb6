package knowledge

import (
	"context"
)

// Retriever 在索引管理器之上回答"查询Q最相关的top-k块"。
// 租户没有索引时返回空结果而不是错误，调用方以此区分
// "还没有文档"和"检索出错"。
type Retriever struct {
	manager        *IndexManager
	scoreThreshold *float64
}

// NewRetriever 创建检索器。threshold > 0 时启用距离过滤。
func NewRetriever(manager *IndexManager, scoreThreshold float64) *Retriever {
	r := &Retriever{manager: manager}
	if scoreThreshold > 0 {
		r.scoreThreshold = &scoreThreshold
	}
	return r
}

// HasIndex 检查租户是否已有索引
func (r *Retriever) HasIndex(tenantID string) bool {
	_, ok := r.manager.Load(tenantID)
	return ok
}

// Retrieve 检索租户索引中与查询最相关的至多k个块
func (r *Retriever) Retrieve(ctx context.Context, tenantID, query string, k int) ([]SearchResult, error) {
	idx, ok := r.manager.Load(tenantID)
	if !ok {
		return nil, nil
	}
	return idx.Search(ctx, query, k, r.scoreThreshold)
}
