package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexManager_LoadMissing(t *testing.T) {
	manager := NewIndexManager(t.TempDir(), newFakeEmbedder(3))

	idx, ok := manager.Load("nobody")
	assert.False(t, ok)
	assert.Nil(t, idx)
}

func TestIndexManager_CorruptFileDegradesToMissing(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "bot-1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFileName), []byte("not an index"), 0o644))

	manager := NewIndexManager(root, newFakeEmbedder(3))

	// 损坏的持久化文件按"无索引"处理，不向调用方传播错误
	idx, ok := manager.Load("bot-1")
	assert.False(t, ok)
	assert.Nil(t, idx)
}

func TestIndexManager_GetOrCreateReturnsSameHandle(t *testing.T) {
	manager := NewIndexManager(t.TempDir(), newFakeEmbedder(3))

	first := manager.GetOrCreate("bot-1")
	second := manager.GetOrCreate("bot-1")
	assert.Same(t, first, second)
}

func TestIndexManager_DiscardIfEmpty(t *testing.T) {
	manager := NewIndexManager(t.TempDir(), newFakeEmbedder(3))

	idx := manager.GetOrCreate("bot-1")
	require.NotNil(t, idx)

	// 首次摄取失败后丢弃空句柄，租户恢复为"无索引"
	manager.DiscardIfEmpty("bot-1")
	_, ok := manager.Load("bot-1")
	assert.False(t, ok)
}

func TestIndexManager_DiscardIfEmptyKeepsPopulatedHandle(t *testing.T) {
	manager := NewIndexManager(t.TempDir(), newFakeEmbedder(3))

	idx := manager.GetOrCreate("bot-1")
	_, err := idx.Upsert(context.Background(), testChunks("written"))
	require.NoError(t, err)

	manager.DiscardIfEmpty("bot-1")
	_, ok := manager.Load("bot-1")
	assert.True(t, ok)
}

func TestIndexManager_DiscardDropsPopulatedHandle(t *testing.T) {
	root := t.TempDir()
	manager := NewIndexManager(root, newFakeEmbedder(3))

	idx := manager.GetOrCreate("bot-1")
	_, err := idx.Upsert(context.Background(), testChunks("in memory only"))
	require.NoError(t, err)

	// 未持久化的句柄被丢弃后，租户状态以磁盘为准：无索引
	manager.Discard("bot-1")
	_, ok := manager.Load("bot-1")
	assert.False(t, ok)
}

func TestIndexManager_DiscardReloadsFromDisk(t *testing.T) {
	root := t.TempDir()
	manager := NewIndexManager(root, newFakeEmbedder(3))

	idx := manager.GetOrCreate("bot-1")
	_, err := idx.Upsert(context.Background(), testChunks("persisted"))
	require.NoError(t, err)
	require.NoError(t, idx.Persist())

	// 落盘后再往内存里合并一批但不持久化
	_, err = idx.Upsert(context.Background(), testChunks("memory only"))
	require.NoError(t, err)
	require.Equal(t, 2, idx.Stats().TotalVectors)

	// 丢弃句柄后重新加载，只看到已落盘的那一批
	manager.Discard("bot-1")
	reloaded, ok := manager.Load("bot-1")
	require.True(t, ok)
	assert.Equal(t, 1, reloaded.Stats().TotalVectors)
}

func TestIndexManager_DeleteMissingIsNoop(t *testing.T) {
	manager := NewIndexManager(t.TempDir(), newFakeEmbedder(3))
	assert.NoError(t, manager.Delete("nobody"))
}

func TestIndexManager_DeleteRemovesHandleAndFiles(t *testing.T) {
	root := t.TempDir()
	manager := NewIndexManager(root, newFakeEmbedder(3))

	idx := manager.GetOrCreate("bot-1")
	_, err := idx.Upsert(context.Background(), testChunks("to be deleted"))
	require.NoError(t, err)
	require.NoError(t, idx.Persist())

	require.NoError(t, manager.Delete("bot-1"))

	stats := manager.Stats("bot-1")
	assert.False(t, stats.Indexed)
	assert.Zero(t, stats.TotalVectors)
}

func TestIndexManager_StatsMissingTenant(t *testing.T) {
	manager := NewIndexManager(t.TempDir(), newFakeEmbedder(3))

	stats := manager.Stats("nobody")
	assert.False(t, stats.Indexed)
	assert.Zero(t, stats.TotalVectors)
	assert.Zero(t, stats.Dimension)
}

func TestRetriever_NoIndexReturnsEmpty(t *testing.T) {
	manager := NewIndexManager(t.TempDir(), newFakeEmbedder(3))
	retriever := NewRetriever(manager, 0)

	assert.False(t, retriever.HasIndex("nobody"))

	results, err := retriever.Retrieve(context.Background(), "nobody", "question", 4)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetriever_RetrievesFromLoadedIndex(t *testing.T) {
	root := t.TempDir()
	embedder := newFakeEmbedder(3)
	embedder.set("relevant", []float32{1, 0, 0})
	embedder.set("irrelevant", []float32{0, 5, 0})
	embedder.set("query", []float32{1, 0, 0})

	seed := NewIndex(root, "bot-1", embedder)
	_, err := seed.Upsert(context.Background(), testChunks("relevant", "irrelevant"))
	require.NoError(t, err)
	require.NoError(t, seed.Persist())

	// 新manager从磁盘懒加载
	manager := NewIndexManager(root, embedder)
	retriever := NewRetriever(manager, 0)
	assert.True(t, retriever.HasIndex("bot-1"))

	results, err := retriever.Retrieve(context.Background(), "bot-1", "query", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "relevant", results[0].Chunk.Text)
}

func TestRetriever_ThresholdDisabledWhenZero(t *testing.T) {
	manager := NewIndexManager(t.TempDir(), newFakeEmbedder(3))

	assert.Nil(t, NewRetriever(manager, 0).scoreThreshold)
	assert.Nil(t, NewRetriever(manager, -1).scoreThreshold)
	require.NotNil(t, NewRetriever(manager, 0.5).scoreThreshold)
	assert.Equal(t, 0.5, *NewRetriever(manager, 0.5).scoreThreshold)
}
