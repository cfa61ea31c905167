package tokenizer

import (
	"fmt"
	"sort"
	"strings"
)

const spmSpace = "▁"

type addedToken struct {
	id      int
	content string
	special bool
}

type textPart struct {
	text   string
	offset int
	id     int
	added  bool
}

// addedIndex buckets added tokens by first byte, longest first, so splitting
// a long document stays linear in practice.
type addedIndex map[byte][]addedToken

func newAddedIndex(tokens []addedToken) addedIndex {
	idx := make(addedIndex)
	for _, tok := range tokens {
		if tok.content == "" {
			continue
		}
		idx[tok.content[0]] = append(idx[tok.content[0]], tok)
	}
	for b := range idx {
		bucket := idx[b]
		sort.SliceStable(bucket, func(i, j int) bool {
			return len(bucket[i].content) > len(bucket[j].content)
		})
	}
	return idx
}

// split cuts text around added tokens.
func (idx addedIndex) split(text string) []textPart {
	if len(idx) == 0 {
		return []textPart{{text: text}}
	}
	var parts []textPart
	start := 0
	for i := 0; i < len(text); {
		var match *addedToken
		for k := range idx[text[i]] {
			tok := &idx[text[i]][k]
			if strings.HasPrefix(text[i:], tok.content) {
				match = tok
				break
			}
		}
		if match == nil {
			i++
			continue
		}
		if i > start {
			parts = append(parts, textPart{text: text[start:i], offset: start})
		}
		parts = append(parts, textPart{text: match.content, offset: i, id: match.id, added: true})
		i += len(match.content)
		start = i
	}
	if start < len(text) || len(parts) == 0 {
		parts = append(parts, textPart{text: text[start:], offset: start})
	}
	return parts
}

// splitSPMWords splits normalized SentencePiece text before every "▁" that
// follows a non-space symbol, so runs of spaces stay with the next word.
func splitSPMWords(s string) []string {
	if s == "" {
		return nil
	}
	words := make([]string, 0, len(s)/4+1)
	start := 0
	prevSpace := false
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], spmSpace) {
			if i > start && !prevSpace {
				words = append(words, s[start:i])
				start = i
			}
			prevSpace = true
			i += len(spmSpace)
			continue
		}
		prevSpace = false
		i++
	}
	return append(words, s[start:])
}

func byteToken(b byte) string {
	return fmt.Sprintf("<0x%02X>", b)
}

// parseByteToken decodes SentencePiece byte-fallback pieces such as <0x0A>.
func parseByteToken(piece string) (byte, bool) {
	if len(piece) != 6 || piece[0] != '<' || piece[1] != '0' || piece[2] != 'x' || piece[5] != '>' {
		return 0, false
	}
	var v byte
	for i := 3; i < 5; i++ {
		v <<= 4
		c := piece[i]
		switch {
		case c >= '0' && c <= '9':
			v |= c - '0'
		case c >= 'a' && c <= 'f':
			v |= c - 'a' + 10
		case c >= 'A' && c <= 'F':
			v |= c - 'A' + 10
		default:
			return 0, false
		}
	}
	return v, true
}

// bytesToUnicode maps bytes to printable runes to make byte-level BPE
// reversible.
func bytesToUnicode() ([256]string, map[rune]byte) {
	var visible [256]bool
	for i := '!'; i <= '~'; i++ {
		visible[i] = true
	}
	for i := '¡'; i <= '¬'; i++ {
		visible[i] = true
	}
	for i := '®'; i <= 'ÿ'; i++ {
		visible[i] = true
	}

	var enc [256]string
	dec := make(map[rune]byte, 256)
	n := 0
	for b := 0; b < 256; b++ {
		r := rune(b)
		if !visible[b] {
			r = rune(256 + n)
			n++
		}
		enc[b] = string(r)
		dec[r] = byte(b)
	}
	return enc, dec
}
