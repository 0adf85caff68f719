package datasift

import (
	"crypto/sha256"
	"sync"

	"github.com/pkg/errors"
)

// Compiler turns CSDL into a stream hash. rest.Client is the implementation
// which talks to DataSift.
type Compiler interface {
	Compile(csdl string) (hash string, err error)
}

// HashCache remembers compiled hashes so that the same CSDL isn't compiled
// again on every run. Implementations must be safe for concurrent use.
type HashCache interface {
	Get(csdl string) (hash string, ok bool, err error)
	Put(csdl, hash string) error
	Close() error
}

// CSDLKey is the key HashCache implementations should store a definition
// under. CSDL can be much longer than is comfortable for a database key.
func CSDLKey(csdl string) []byte {
	sum := sha256.Sum256([]byte(csdl))
	return sum[:]
}

// Definition is a stream definition written in CSDL. Its hash is compiled
// the first time it's asked for.
type Definition struct {
	CSDL string

	compiler Compiler
	cache    HashCache

	mu   sync.Mutex
	hash string
}

// DefinitionOption is a functional option type for Definition.
type DefinitionOption func(d *Definition)

// OptDefinitionHashCache makes the definition look for its hash in cache
// before compiling, and store it there after.
func OptDefinitionHashCache(cache HashCache) DefinitionOption {
	return func(d *Definition) {
		d.cache = cache
	}
}

// OptDefinitionHash sets an already known hash, so no compilation happens.
func OptDefinitionHash(hash string) DefinitionOption {
	return func(d *Definition) {
		d.hash = hash
	}
}

// NewDefinition gets a Definition for csdl which will be compiled with c.
func NewDefinition(csdl string, c Compiler, opts ...DefinitionOption) *Definition {
	d := &Definition{
		CSDL:     csdl,
		compiler: c,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Hash returns the definition's stream hash, compiling it if that hasn't
// happened yet.
func (d *Definition) Hash() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hash != "" {
		return d.hash, nil
	}
	if d.CSDL == "" {
		return "", errors.Wrap(ErrInvalidData, "cannot compile an empty definition")
	}
	if d.cache != nil {
		hash, ok, err := d.cache.Get(d.CSDL)
		if err != nil {
			return "", errors.Wrap(err, "looking up cached hash")
		}
		if ok {
			d.hash = hash
			return hash, nil
		}
	}
	if d.compiler == nil {
		return "", errors.Wrap(ErrInvalidData, "definition has no hash and no compiler")
	}
	hash, err := d.compiler.Compile(d.CSDL)
	if err != nil {
		return "", errors.Wrap(err, "compiling definition")
	}
	if hash == "" {
		return "", errors.Wrap(ErrCompileFailed, "compiled successfully but no hash in the response")
	}
	if d.cache != nil {
		if err := d.cache.Put(d.CSDL, hash); err != nil {
			return "", errors.Wrap(err, "caching hash")
		}
	}
	d.hash = hash
	return hash, nil
}

// HistoricStarter starts a prepared historic query. rest.Client is the
// implementation which talks to DataSift.
type HistoricStarter interface {
	StartHistoric(playbackID string) error
}

// Historic is a prepared historic query. Once started, it streams over the
// same protocol as a live definition; stream.Consumer starts it before
// connecting.
type Historic struct {
	PlaybackID string
	StreamHash string

	starter HistoricStarter
}

// NewHistoric gets a Historic for a query which has already been prepared.
func NewHistoric(playbackID, hash string, s HistoricStarter) *Historic {
	return &Historic{
		PlaybackID: playbackID,
		StreamHash: hash,
		starter:    s,
	}
}

// Hash returns the playback id. Historics are consumed by playback id rather
// than by the hash of their definition, so this is what the stream endpoint
// is given. The definition's hash is in StreamHash.
func (h *Historic) Hash() (string, error) {
	if h.PlaybackID == "" {
		return "", errors.Wrap(ErrInvalidData, "historic has not been prepared")
	}
	return h.PlaybackID, nil
}

// Start starts the playback.
func (h *Historic) Start() error {
	if h.PlaybackID == "" {
		return errors.Wrap(ErrInvalidData, "cannot start a historic that hasn't been prepared")
	}
	if h.starter == nil {
		return errors.Wrap(ErrInvalidData, "historic has no starter")
	}
	return errors.Wrap(h.starter.StartHistoric(h.PlaybackID), "starting historic")
}
