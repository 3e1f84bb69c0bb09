package spm_pack

import (
	"slices"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/wbrown/spm_pack/types"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const DefaultCacheSize = 65536

// Options select how a Tokenizer segments and whether it memoizes.
type Options struct {
	Segmenter SegmenterKind
	LowerCase bool
	// CacheSize is the number of segmented texts kept in the ARC cache;
	// zero disables caching.
	CacheSize int
}

func DefaultOptions() Options {
	return Options{
		Segmenter: SentencePiece,
		LowerCase: true,
		CacheSize: DefaultCacheSize,
	}
}

// Tokenizer converts raw text to subword strings and those strings to and
// from vocabulary ids. It is read-only after construction; the cache and
// its counters are safe for concurrent use.
type Tokenizer struct {
	Vocab     *Vocab
	segmenter Segmenter
	lowerCase bool
	Cache     *lru.ARCCache
	lruHits   atomic.Int64
	lruMisses atomic.Int64
}

// Load
// Loads a SentencePiece model and its vocabulary with default options.
func Load(modelPath string, vocabPath string, lowerCase bool) (*Tokenizer,
	error) {
	opts := DefaultOptions()
	opts.LowerCase = lowerCase
	return LoadWithOptions(modelPath, vocabPath, opts)
}

// LoadWithOptions
// Loads the segmentation model, then the vocabulary. Errors are
// *ModelLoadError or *VocabLoadError respectively.
func LoadWithOptions(modelPath string, vocabPath string,
	opts Options) (*Tokenizer, error) {
	segmenter, segErr := NewSegmenter(opts.Segmenter, modelPath)
	if segErr != nil {
		return nil, segErr
	}
	vocab, vocabErr := LoadVocab(vocabPath)
	if vocabErr != nil {
		return nil, vocabErr
	}
	return NewTokenizer(segmenter, vocab, opts), nil
}

// NewTokenizer
// Assembles a Tokenizer from an already loaded segmenter and vocabulary.
// opts.Segmenter is ignored.
func NewTokenizer(segmenter Segmenter, vocab *Vocab,
	opts Options) *Tokenizer {
	tokenizer := &Tokenizer{
		Vocab:     vocab,
		segmenter: segmenter,
		lowerCase: opts.LowerCase,
	}
	if opts.CacheSize > 0 {
		// NewARC only fails on a non-positive size.
		tokenizer.Cache, _ = lru.NewARC(opts.CacheSize)
	}
	return tokenizer
}

// Tokenize
// Splits text into subword strings, lower-casing it first when the
// tokenizer was built to. The result is deterministic for a given model.
func (tokenizer *Tokenizer) Tokenize(text string) []string {
	if tokenizer.lowerCase {
		text = cases.Lower(language.Und).String(text)
	}
	if tokenizer.Cache == nil {
		return tokenizer.segmenter.Segment(text)
	}
	if cached, ok := tokenizer.Cache.Get(text); ok {
		tokenizer.lruHits.Add(1)
		return slices.Clone(cached.([]string))
	}
	tokenizer.lruMisses.Add(1)
	pieces := tokenizer.segmenter.Segment(text)
	tokenizer.Cache.Add(text, slices.Clone(pieces))
	return pieces
}

func (tokenizer *Tokenizer) TokensToIds(tokens []string) types.Tokens {
	return tokenizer.Vocab.TokensToIds(tokens)
}

func (tokenizer *Tokenizer) IdsToTokens(ids types.Tokens) []string {
	return tokenizer.Vocab.IdsToTokens(ids)
}

// Encode tokenizes text and maps the pieces to ids.
func (tokenizer *Tokenizer) Encode(text string) types.Tokens {
	return tokenizer.TokensToIds(tokenizer.Tokenize(text))
}

// TokenWidth is the on-disk width needed for this tokenizer's ids.
func (tokenizer *Tokenizer) TokenWidth() types.TokenWidth {
	return types.WidthForVocab(tokenizer.Vocab.Size())
}

// CacheStats returns the cache hit and miss counts so far.
func (tokenizer *Tokenizer) CacheStats() (hits int64, misses int64) {
	return tokenizer.lruHits.Load(), tokenizer.lruMisses.Load()
}
