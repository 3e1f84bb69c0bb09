package types

import (
	"encoding/binary"
	"fmt"
)

// AppendBin
// Appends the little-endian encoding of tokens to buf, each token taking
// `width` bytes.
func (tokens Tokens) AppendBin(buf []byte, width TokenWidth) ([]byte,
	error) {
	switch width {
	case Uint16Width:
		for _, token := range tokens {
			if token > 65535 {
				return buf, fmt.Errorf("integer overflow: tried to write "+
					"token ID %d as unsigned 16-bit", token)
			}
			buf = binary.LittleEndian.AppendUint16(buf, uint16(token))
		}
	case Uint32Width:
		for _, token := range tokens {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(token))
		}
	default:
		return buf, fmt.Errorf("unsupported token width %d", width)
	}
	return buf, nil
}

func (tokens Tokens) ToBin(width TokenWidth) ([]byte, error) {
	return tokens.AppendBin(make([]byte, 0, len(tokens)*int(width)), width)
}

// TokensFromBin
// Decodes a little-endian byte slice of `width`-byte token ids. Trailing
// bytes that do not form a whole token are an error.
func TokensFromBin(bin []byte, width TokenWidth) (Tokens, error) {
	if !width.Valid() {
		return nil, fmt.Errorf("unsupported token width %d", width)
	}
	if len(bin)%int(width) != 0 {
		return nil, fmt.Errorf("%d bytes is not a multiple of token "+
			"width %d", len(bin), width)
	}
	tokens := make(Tokens, 0, len(bin)/int(width))
	for idx := 0; idx < len(bin); idx += int(width) {
		if width == Uint16Width {
			tokens = append(tokens,
				Token(binary.LittleEndian.Uint16(bin[idx:])))
		} else {
			tokens = append(tokens,
				Token(binary.LittleEndian.Uint32(bin[idx:])))
		}
	}
	return tokens, nil
}

// Padded
// Returns a copy of tokens right-padded with `pad` up to `length`. Tokens
// longer than `length` are returned unchanged.
func (tokens Tokens) Padded(length int, pad Token) Tokens {
	padded := make(Tokens, len(tokens), max(length, len(tokens)))
	copy(padded, tokens)
	for len(padded) < length {
		padded = append(padded, pad)
	}
	return padded
}
