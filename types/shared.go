package types

type Token uint32
type Tokens []Token
type TokenMap map[string]Token

// TokenWidth is the number of bytes a single token id occupies on disk.
type TokenWidth uint16

const (
	Uint16Width TokenWidth = 2
	Uint32Width TokenWidth = 4
)

// WidthForVocab
// Returns the narrowest TokenWidth that can represent every id of a
// vocabulary with `size` entries.
func WidthForVocab(size int) TokenWidth {
	if size > 65536 {
		return Uint32Width
	}
	return Uint16Width
}

func (w TokenWidth) Valid() bool {
	return w == Uint16Width || w == Uint32Width
}
