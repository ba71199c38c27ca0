package shelltune

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Tokenizer file format constants. The on-disk layout is the GPT-2 vocab
// export: a 256-word uint32 header (magic, version, vocab size) followed by
// length-prefixed token byte strings.
const (
	tokenizerMagic   uint32 = 20240328
	tokenizerVersion uint32 = 1
	headerWords             = 256
)

// EndOfText is the GPT-2 end-of-text token id. It doubles as the padding id
// and as the fallback id for bytes outside the vocabulary.
const EndOfText int32 = 50256

// Tokenizer maps text to vocabulary ids and back. The padding/end-of-text id
// is an explicit field set at construction, not mutated process-wide state.
type Tokenizer struct {
	tokenTable []string
	matcher    *trie
	eot        int32
	init       bool
}

// NewTokenizer reads a binary vocabulary file.
func NewTokenizer(filename string) (Tokenizer, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Tokenizer{}, err
	}
	defer f.Close()
	header := make([]uint32, headerWords)
	if err := binary.Read(f, binary.LittleEndian, header); err != nil {
		return Tokenizer{}, fmt.Errorf("reading tokenizer header: %w", err)
	}
	if header[0] != tokenizerMagic || header[1] != tokenizerVersion {
		return Tokenizer{}, errors.New("incorrect header for tokenizer")
	}
	table := make([]string, header[2])
	var length byte
	for i := range table {
		if err := binary.Read(f, binary.LittleEndian, &length); err != nil {
			return Tokenizer{}, err
		}
		if length == 0 {
			return Tokenizer{}, errors.New("tokenizer vocab entry with zero length")
		}
		tokenBytes := make([]byte, length)
		if err := binary.Read(f, binary.LittleEndian, tokenBytes); err != nil {
			return Tokenizer{}, err
		}
		table[i] = string(tokenBytes)
	}
	return newTokenizer(table, EndOfText), nil
}

func newTokenizer(vocab []string, eot int32) Tokenizer {
	return Tokenizer{
		tokenTable: vocab,
		matcher:    newTrie(vocab),
		eot:        eot,
		init:       true,
	}
}

// Save writes the vocabulary back out in the binary file format.
func (t Tokenizer) Save(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	header := make([]uint32, headerWords)
	header[0] = tokenizerMagic
	header[1] = tokenizerVersion
	header[2] = uint32(len(t.tokenTable))
	if err := binary.Write(f, binary.LittleEndian, header); err != nil {
		return err
	}
	for _, token := range t.tokenTable {
		if err := binary.Write(f, binary.LittleEndian, byte(len(token))); err != nil {
			return err
		}
		if err := binary.Write(f, binary.LittleEndian, []byte(token)); err != nil {
			return err
		}
	}
	return nil
}

// VocabSize returns the number of entries in the token table.
func (t Tokenizer) VocabSize() int {
	return len(t.tokenTable)
}

// EOT returns the end-of-text/padding token id.
func (t Tokenizer) EOT() int32 {
	return t.eot
}

// Encode tokenizes text by greedy longest match against the vocabulary.
// Bytes with no vocabulary entry become the end-of-text id.
func (t Tokenizer) Encode(text string) ([]int32, error) {
	if !t.init {
		return nil, errors.New("tokenizer not initialised")
	}
	_, tokens := t.matcher.Tokenize([]byte(text))
	for i, tok := range tokens {
		if tok == unknownToken {
			tokens[i] = t.eot
		}
	}
	return tokens, nil
}

// EncodePadded tokenizes text into exactly maxLen ids: overflow is truncated
// and short sequences are right-padded with the end-of-text id.
func (t Tokenizer) EncodePadded(text string, maxLen int) ([]int32, error) {
	tokens, err := t.Encode(text)
	if err != nil {
		return nil, err
	}
	if len(tokens) > maxLen {
		return tokens[:maxLen], nil
	}
	for len(tokens) < maxLen {
		tokens = append(tokens, t.eot)
	}
	return tokens, nil
}

// Decode concatenates the byte strings of the given token ids.
func (t Tokenizer) Decode(tokens []int32) (string, error) {
	var sb strings.Builder
	for _, token := range tokens {
		if token < 0 || token >= int32(len(t.tokenTable)) {
			return "", fmt.Errorf("token id %d outside vocabulary of %d", token, len(t.tokenTable))
		}
		sb.WriteString(t.tokenTable[token])
	}
	return sb.String(), nil
}
