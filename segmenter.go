package spm_pack

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
	"github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
	"github.com/wbrown/spm_pack/resources"
)

// Segmenter splits text into subword strings. Implementations hold only
// read-only model state.
type Segmenter interface {
	Segment(text string) []string
}

type SegmenterKind string

const (
	SentencePiece SegmenterKind = "sentencepiece"
	WordPiece     SegmenterKind = "wordpiece"
	Whitespace    SegmenterKind = "whitespace"
)

func ParseSegmenterKind(s string) (SegmenterKind, error) {
	switch kind := SegmenterKind(strings.ToLower(s)); kind {
	case SentencePiece, WordPiece, Whitespace:
		return kind, nil
	case "":
		return SentencePiece, nil
	default:
		return "", fmt.Errorf("unknown segmenter `%s`, expected one of "+
			"[sentencepiece, wordpiece, whitespace]", s)
	}
}

// NewSegmenter
// Loads the segmentation model of the given kind from `modelPath`. Load
// failures are reported as *ModelLoadError.
func NewSegmenter(kind SegmenterKind, modelPath string) (Segmenter, error) {
	switch kind {
	case SentencePiece:
		return NewSentencePieceSegmenter(modelPath)
	case WordPiece:
		return NewWordPieceSegmenter(modelPath)
	case Whitespace:
		return WhitespaceSegmenter{}, nil
	default:
		return nil, &ModelLoadError{Path: modelPath,
			Err: fmt.Errorf("unknown segmenter `%s`", kind)}
	}
}

// SentencePieceSegmenter runs a trained SentencePiece unigram model.
type SentencePieceSegmenter struct {
	model sentencepiece.Sentencepiece
}

func NewSentencePieceSegmenter(modelPath string) (*SentencePieceSegmenter,
	error) {
	// Decode once up front so that a corrupt model fails loudly instead of
	// yielding an empty segmenter.
	if _, protoErr := resources.LoadModelProto(modelPath); protoErr != nil {
		return nil, &ModelLoadError{Path: modelPath, Err: protoErr}
	}
	model, modelErr := sentencepiece.NewSentencepieceFromFile(modelPath,
		false)
	if modelErr != nil {
		return nil, &ModelLoadError{Path: modelPath, Err: modelErr}
	}
	return &SentencePieceSegmenter{model: model}, nil
}

func (s *SentencePieceSegmenter) Segment(text string) []string {
	tokens := s.model.Tokenize(text)
	pieces := make([]string, 0, len(tokens))
	for _, token := range tokens {
		pieces = append(pieces, token.Text)
	}
	return pieces
}

// WordPieceSegmenter runs a BERT-style WordPiece model read from a
// `vocab.txt` file.
type WordPieceSegmenter struct {
	tokenizer *tk.Tokenizer
}

func NewWordPieceSegmenter(vocabPath string) (*WordPieceSegmenter, error) {
	wp, wpErr := wordpiece.NewWordPieceFromFile(vocabPath, "[UNK]")
	if wpErr != nil {
		return nil, &ModelLoadError{Path: vocabPath, Err: wpErr}
	}
	t := tk.NewTokenizer(wp)
	// Case folding is done by the Tokenizer, so the normalizer keeps case.
	t.WithNormalizer(normalizer.NewBertNormalizer(true, true, true, false))
	t.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())
	return &WordPieceSegmenter{tokenizer: t}, nil
}

func (s *WordPieceSegmenter) Segment(text string) []string {
	encoding, err := s.tokenizer.Encode(
		tk.NewSingleEncodeInput(tk.NewInputSequence(text)), false)
	if err != nil {
		log.Warnf("wordpiece: cannot segment %q: %v", text, err)
		return nil
	}
	return encoding.GetTokens()
}

// WhitespaceSegmenter splits on runs of Unicode whitespace. It needs no
// model and is meant for pre-segmented corpora and tests.
type WhitespaceSegmenter struct{}

func (WhitespaceSegmenter) Segment(text string) []string {
	return strings.Fields(text)
}
