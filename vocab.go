package spm_pack

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/wbrown/spm_pack/resources"
	"github.com/wbrown/spm_pack/types"
)

const (
	UnknownId    types.Token = 0
	UnknownToken             = "<unk>"
)

// DuplicateEntry records a token that appeared on more than one line of a
// vocabulary file. The token resolves to NewId; OldId no longer decodes.
type DuplicateEntry struct {
	Token string
	OldId types.Token
	NewId types.Token
}

// Vocab is an ordered bidirectional mapping between subword strings and
// ids. Ids are assigned by line order and the mapping never changes once
// built.
type Vocab struct {
	tokenToId  types.TokenMap
	idToToken  map[types.Token]string
	scores     []float32
	Duplicates []DuplicateEntry
}

// vocabLineError is a parse failure tied to a line of the vocabulary.
type vocabLineError struct {
	line int
	err  error
}

func (e *vocabLineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.line, e.err)
}

func (e *vocabLineError) Unwrap() error {
	return e.err
}

func newVocab(capacity int) *Vocab {
	return &Vocab{
		tokenToId: make(types.TokenMap, capacity),
		idToToken: make(map[types.Token]string, capacity),
		scores:    make([]float32, 0, capacity),
	}
}

// insert appends token under the next id. A repeated token moves to the
// new id and its previous id is dropped from the inverse mapping.
func (vocab *Vocab) insert(token string, score float32) {
	id := types.Token(len(vocab.scores))
	if oldId, ok := vocab.tokenToId[token]; ok {
		vocab.Duplicates = append(vocab.Duplicates, DuplicateEntry{
			Token: token,
			OldId: oldId,
			NewId: id,
		})
		delete(vocab.idToToken, oldId)
	}
	vocab.tokenToId[token] = id
	vocab.idToToken[id] = token
	vocab.scores = append(vocab.scores, score)
}

// NewVocab
// Builds a vocabulary from tokens in id order, all scored 0.
func NewVocab(tokens []string) *Vocab {
	vocab := newVocab(len(tokens))
	for _, token := range tokens {
		vocab.insert(token, 0)
	}
	return vocab
}

// ParseVocab
// Reads `token<TAB>score` lines. Every line must carry exactly one TAB and
// a numeric score; the token is whitespace trimmed.
func ParseVocab(reader io.Reader) (*Vocab, error) {
	vocab := newVocab(0)
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.ToValidUTF8(scanner.Text(), "�")
		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			return nil, &vocabLineError{lineNo, fmt.Errorf(
				"expected `token<TAB>score`, found %d fields",
				len(fields))}
		}
		score, scoreErr := strconv.ParseFloat(strings.TrimSpace(fields[1]),
			32)
		if scoreErr != nil {
			return nil, &vocabLineError{lineNo, scoreErr}
		}
		vocab.insert(strings.TrimSpace(fields[0]), float32(score))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if vocab.Size() == 0 {
		return nil, errors.New("vocabulary has no entries")
	}
	return vocab, nil
}

// LoadVocab
// Maps the vocabulary file at `path` and parses it. Any failure is
// reported as a *VocabLoadError.
func LoadVocab(path string) (*Vocab, error) {
	entry, mapErr := resources.Map(path)
	if mapErr != nil {
		return nil, &VocabLoadError{Path: path, Err: mapErr}
	}
	defer entry.Close()
	vocab, parseErr := ParseVocab(bytes.NewReader(entry.Data))
	if parseErr != nil {
		var lineErr *vocabLineError
		if errors.As(parseErr, &lineErr) {
			return nil, &VocabLoadError{Path: path, Line: lineErr.line,
				Err: lineErr.err}
		}
		return nil, &VocabLoadError{Path: path, Err: parseErr}
	}
	for _, dupe := range vocab.Duplicates {
		log.Warnf("Vocabulary `%s`: duplicate token %q, id %d replaced "+
			"by %d", path, dupe.Token, dupe.OldId, dupe.NewId)
	}
	return vocab, nil
}

// Size is the number of ids the vocabulary assigned, duplicates included.
func (vocab *Vocab) Size() int {
	return len(vocab.scores)
}

// Get
// Looks up the id of token. The boolean is false for out-of-vocabulary
// tokens.
func (vocab *Vocab) Get(token string) (types.Token, bool) {
	id, ok := vocab.tokenToId[token]
	return id, ok
}

// Token
// Looks up the token for id. The boolean is false for ids with no token.
func (vocab *Vocab) Token(id types.Token) (string, bool) {
	token, ok := vocab.idToToken[id]
	return token, ok
}

func (vocab *Vocab) Score(id types.Token) (float32, bool) {
	if int(id) >= len(vocab.scores) {
		return 0, false
	}
	return vocab.scores[id], true
}

// TokensToIds maps each token to its id, with UnknownId for misses.
func (vocab *Vocab) TokensToIds(tokens []string) types.Tokens {
	ids := make(types.Tokens, 0, len(tokens))
	for _, token := range tokens {
		if id, ok := vocab.tokenToId[token]; ok {
			ids = append(ids, id)
		} else {
			ids = append(ids, UnknownId)
		}
	}
	return ids
}

// IdsToTokens maps each id to its token, with UnknownToken for misses.
func (vocab *Vocab) IdsToTokens(ids types.Tokens) []string {
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		if token, ok := vocab.idToToken[id]; ok {
			tokens = append(tokens, token)
		} else {
			tokens = append(tokens, UnknownToken)
		}
	}
	return tokens
}
