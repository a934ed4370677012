package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/codeindex/internal/embedder"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/internal/vectorstore"
	"github.com/dshills/codeindex/pkg/types"
)

// ErrSemanticDisabled is returned by RebuildEmbeddings when no vector store is attached
var ErrSemanticDisabled = errors.New("semantic indexing is not configured")

// listPage is the page size used when scanning every symbol
const listPage = 1000

// RebuildEmbeddings drops every stored vector and re-embeds all symbols
func (idx *Indexer) RebuildEmbeddings(ctx context.Context) (*Statistics, error) {
	if idx.vectors == nil || idx.embedder == nil {
		return nil, ErrSemanticDisabled
	}
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexInProgress
	}
	defer idx.lock.Release()

	if err := idx.vectors.Clear(ctx); err != nil {
		return nil, err
	}
	stats := &Statistics{Errors: make([]FileError, 0)}
	if err := idx.embedSymbols(ctx, stats); err != nil {
		return stats, err
	}
	return stats, nil
}

// embedSymbols brings the vector store in line with the structural index.
// It runs after structural persistence so slow embedding calls never hold
// the relational write path. Symbols whose semantic text is unchanged are
// not re-embedded; vectors of symbols that no longer exist are deleted.
func (idx *Indexer) embedSymbols(ctx context.Context, stats *Statistics) error {
	if idx.vectors == nil || idx.embedder == nil {
		return ErrSemanticDisabled
	}
	emb, err := idx.embedder.Get()
	if err != nil {
		return fmt.Errorf("load embedder: %w", err)
	}

	model := embedder.Key(emb)
	current, err := idx.vectors.Model(ctx)
	if err != nil {
		return err
	}
	if current != model {
		if current != "" {
			idx.log.Info("embedding model changed, clearing vectors", "from", current, "to", model)
		}
		if err := idx.vectors.Clear(ctx); err != nil {
			return err
		}
		if err := idx.vectors.SetModel(ctx, model); err != nil {
			return err
		}
	}
	if err := idx.store.SetMeta(ctx, storage.MetaEmbedModel, model); err != nil {
		return err
	}

	hashes, err := idx.vectors.Hashes(ctx)
	if err != nil {
		return err
	}

	batchSize := idx.cfg.BatchSize
	if batchSize <= 0 || batchSize > embedder.MaxBatchSize {
		batchSize = embedder.DefaultBatchSize
	}

	live := make(map[string]struct{})
	var queue []types.Symbol
	var texts []string
	flush := func() error {
		if len(queue) == 0 {
			return nil
		}
		n, err := idx.embedBatch(ctx, emb, queue, texts)
		stats.Embedded += n
		queue, texts = queue[:0], texts[:0]
		return err
	}

	after := ""
	for {
		syms, err := idx.store.ListSymbols(ctx, after, listPage)
		if err != nil {
			return err
		}
		if len(syms) == 0 {
			break
		}
		for _, sym := range syms {
			if sym.Kind == types.KindImport {
				continue
			}
			live[sym.ID] = struct{}{}
			text := sym.SemanticText()
			if hashes[sym.ID] == embedder.ComputeHash(text) {
				continue
			}
			queue = append(queue, sym)
			texts = append(texts, text)
			if len(queue) >= batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		after = syms[len(syms)-1].ID
	}
	if err := flush(); err != nil {
		return err
	}

	var stale []string
	for id := range hashes {
		if _, ok := live[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := idx.vectors.Delete(ctx, stale...); err != nil {
			return err
		}
	}
	idx.log.Info("index.embedded", "embedded", stats.Embedded, "removed", len(stale), "model", model)
	return nil
}

func (idx *Indexer) embedBatch(ctx context.Context, emb embedder.Embedder, syms []types.Symbol, texts []string) (int, error) {
	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return 0, err
	}
	if len(resp.Embeddings) != len(syms) {
		return 0, fmt.Errorf("%w: got %d embeddings for %d symbols", embedder.ErrProviderFailed, len(resp.Embeddings), len(syms))
	}

	entries := make([]vectorstore.Entry, len(syms))
	for i, sym := range syms {
		entries[i] = vectorstore.Entry{
			ID:     sym.ID,
			Vector: resp.Embeddings[i].Vector,
			Metadata: vectorstore.Metadata{
				FilePath: sym.Location.FilePath,
				Name:     sym.Name,
				Kind:     sym.Kind,
				Language: sym.Language,
				TextHash: embedder.ComputeHash(texts[i]),
			},
		}
	}
	if err := idx.vectors.UpsertBatch(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}
