package resources

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
	"google.golang.org/protobuf/proto"
)

var escaper = strings.NewReplacer(
	"\t", "\\t",
	"\n", "\\n",
	"\r", "\\r")

type DuplicateEntry struct {
	OldIdx int
	NewIdx int
	Repr   string
}

type VocabEntry struct {
	Piece string
	Score float32
	Type  sentencepiece.ModelProto_SentencePiece_Type
}

// EscapeString
// Escapes the characters that would break the line-oriented `.vocab`
// format.
func EscapeString(s string) string {
	return escaper.Replace(s)
}

// LoadModelProto
// Maps and decodes a trained SentencePiece model. A model without any
// pieces is rejected, as nothing could be segmented with it.
func LoadModelProto(modelPath string) (*sentencepiece.ModelProto, error) {
	entry, mapErr := Map(modelPath)
	if mapErr != nil {
		return nil, mapErr
	}
	defer entry.Close()
	var model sentencepiece.ModelProto
	if err := proto.Unmarshal(entry.Data, &model); err != nil {
		return nil, fmt.Errorf("unable to unmarshal model proto: %w", err)
	}
	if len(model.GetPieces()) == 0 {
		return nil, fmt.Errorf("model proto `%s` has no pieces", modelPath)
	}
	return &model, nil
}

// GenerateVocab
// Lists the model's pieces in id order. Pieces that repeat an earlier
// piece's text are reported as duplicates; they keep their position so
// ids stay aligned with the model.
func GenerateVocab(model *sentencepiece.ModelProto) (
	vocab []VocabEntry,
	duplicates []DuplicateEntry,
) {
	vocab = make([]VocabEntry, 0, len(model.GetPieces()))
	seen := make(map[string]int, len(model.GetPieces()))
	for pieceIdx, piece := range model.GetPieces() {
		repr := piece.GetPiece()
		if oldIdx, ok := seen[repr]; ok {
			duplicates = append(duplicates, DuplicateEntry{
				OldIdx: oldIdx,
				NewIdx: pieceIdx,
				Repr:   repr,
			})
		}
		seen[repr] = pieceIdx
		vocab = append(vocab, VocabEntry{
			Piece: repr,
			Score: piece.GetScore(),
			Type:  piece.GetType(),
		})
	}
	return vocab, duplicates
}

// WriteVocab
// Serializes vocab entries as `piece<TAB>score` lines, the format the
// tokenizer reads back.
func WriteVocab(w io.Writer, vocab []VocabEntry) error {
	writer := bufio.NewWriter(w)
	for _, entry := range vocab {
		if _, err := fmt.Fprintf(writer, "%s\t%s\n",
			EscapeString(entry.Piece),
			strconv.FormatFloat(float64(entry.Score), 'g', -1,
				32)); err != nil {
			return err
		}
	}
	return writer.Flush()
}

// ExportVocab
// Writes the companion `.vocab` file for the SentencePiece model at
// `modelPath` to `vocabPath`.
func ExportVocab(modelPath string, vocabPath string) (
	[]DuplicateEntry,
	error,
) {
	model, modelErr := LoadModelProto(modelPath)
	if modelErr != nil {
		return nil, modelErr
	}
	vocab, duplicates := GenerateVocab(model)
	for _, dupe := range duplicates {
		log.Warnf("Duplicate piece: old (%d), new (%d): %q",
			dupe.OldIdx, dupe.NewIdx, dupe.Repr)
	}
	vocabFile, createErr := os.Create(vocabPath)
	if createErr != nil {
		return duplicates, createErr
	}
	if writeErr := WriteVocab(vocabFile, vocab); writeErr != nil {
		vocabFile.Close()
		return duplicates, writeErr
	}
	return duplicates, vocabFile.Close()
}
