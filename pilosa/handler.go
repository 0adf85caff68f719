package pilosa

import (
	"sync"
	"time"

	"github.com/datasift/datasift-go"
	"github.com/datasift/datasift-go/geohash"
	"github.com/pkg/errors"
)

// Field names written by Handler.
const (
	FieldHash      = "stream_hash"
	FieldType      = "type"
	FieldAuthor    = "author"
	FieldGeohash   = "geohash"
	FieldCreatedAt = "created_at"
	FieldDeleted   = "deleted"
)

// createdAtLayout is how the API formats interaction.created_at.
const createdAtLayout = time.RFC1123Z

// Indexer is the part of Index a Handler writes to.
type Indexer interface {
	AddColumn(field string, col uint64, row string)
	AddColumnTimestamp(field string, col uint64, row string, ts time.Time)
	AddValue(field string, col uint64, val int64)
	Close() error
}

// Handler is a datasift.EventHandler which indexes each interaction as a new
// column: the stream it matched (a time field, by creation time), its type,
// its author, and the geohash cell it was posted from. Deletions set the
// "deleted" row of the original column if it was indexed by this handler.
type Handler struct {
	datasift.NopHandler

	// Precision is the number of geohash characters indexed.
	Precision uint

	indexer Indexer
	nexter  *Nexter
	log     datasift.Logger

	mu      sync.Mutex
	columns map[string]uint64
}

// NewHandler gets a Handler which writes to indexer.
func NewHandler(indexer Indexer, nexter *Nexter, l datasift.Logger) *Handler {
	if nexter == nil {
		nexter = NewNexter(0)
	}
	if l == nil {
		l = datasift.NopLogger{}
	}
	return &Handler{
		Precision: 6,
		indexer:   indexer,
		nexter:    nexter,
		log:       l,
		columns:   make(map[string]uint64),
	}
}

// OnInteraction implements datasift.EventHandler.
func (h *Handler) OnInteraction(c datasift.Consumer, interaction datasift.Interaction, hash string) {
	meta, err := interaction.Meta()
	if err != nil {
		h.log.Printf("not indexing interaction: %v", err)
		return
	}
	col := h.nexter.Next()
	if meta.ID != "" {
		h.mu.Lock()
		h.columns[meta.ID] = col
		h.mu.Unlock()
	}

	created, err := time.Parse(createdAtLayout, meta.CreatedAt)
	if err != nil {
		h.indexer.AddColumn(FieldHash, col, hash)
	} else {
		h.indexer.AddColumnTimestamp(FieldHash, col, hash, created)
		h.indexer.AddValue(FieldCreatedAt, col, created.Unix())
	}
	if meta.Type != "" {
		h.indexer.AddColumn(FieldType, col, meta.Type)
	}
	if meta.Author.Username != "" {
		h.indexer.AddColumn(FieldAuthor, col, meta.Author.Username)
	}
	if cell, ok := geohash.Cell(interaction, h.Precision); ok {
		h.indexer.AddColumn(FieldGeohash, col, cell)
	}
}

// OnDeleted implements datasift.EventHandler.
func (h *Handler) OnDeleted(c datasift.Consumer, interaction datasift.Interaction, hash string) {
	id := interaction.ID()
	h.mu.Lock()
	col, ok := h.columns[id]
	delete(h.columns, id)
	h.mu.Unlock()
	if !ok {
		h.log.Debugf("deletion of unindexed interaction %s", id)
		return
	}
	h.indexer.AddColumn(FieldDeleted, col, "true")
}

// Close flushes the indexer. The handler must not be used afterwards.
func (h *Handler) Close() error {
	return errors.Wrap(h.indexer.Close(), "closing indexer")
}
