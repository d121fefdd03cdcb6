package rag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_queries_total",
		Help: "Total RAG queries by mode and terminal state",
	}, []string{"mode", "state"})

	ingestedChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_ingested_chunks_total",
		Help: "Total chunks embedded and merged into tenant indexes",
	})

	streamFragmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_stream_fragments_total",
		Help: "Total answer fragments emitted on streaming queries",
	})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_tokens_total",
		Help: "Total tokens reported by the generation provider",
	}, []string{"kind"})
)
