package tokenizer

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"
)

// Mode is the pre-tokenization family of a BPE model.
type Mode int

const (
	// ByteLevel is GPT-2 style: regex split then byte-to-rune mapping.
	ByteLevel Mode = iota
	// SentencePiece is Llama style: spaces become "▁" with byte fallback.
	SentencePiece
)

func (m Mode) String() string {
	if m == SentencePiece {
		return "sentencepiece"
	}
	return "byte-level"
}

type prependScheme int

const (
	prependAlways prependScheme = iota
	prependFirst
	prependNever
)

const defaultCacheSize = 1 << 14

// HFTokenizer encodes with a tokenizer.json BPE model. It is safe for
// concurrent use.
type HFTokenizer struct {
	mode     Mode
	encoder  map[string]int
	decoder  []string
	ranks    map[Pair]int
	added    addedIndex
	addedIDs map[int]addedToken
	cache    *wordCache

	byteEncoder [256]string
	byteDecoder map[rune]byte
	pattern     *regexp.Regexp

	prepend      prependScheme
	byteFallback bool
	fuseUnk      bool
	ignoreMerges bool

	addBOS bool
	addEOS bool
	bosID  int
	eosID  int
	unkID  int
}

type hfPreTokenizer struct {
	Type           string `json:"type"`
	Replacement    string `json:"replacement"`
	AddPrefixSpace *bool  `json:"add_prefix_space"`
	PrependScheme  string `json:"prepend_scheme"`
	Pattern        struct {
		Regex string `json:"Regex"`
	} `json:"pattern"`
	Pretokenizers []hfPreTokenizer `json:"pretokenizers"`
}

type hfNormalizer struct {
	Type    string `json:"type"`
	Prepend string `json:"prepend"`
	Content string `json:"content"`
	Pattern struct {
		String string `json:"String"`
	} `json:"pattern"`
	Normalizers []hfNormalizer `json:"normalizers"`
}

type hfTemplatePiece struct {
	SpecialToken *struct {
		ID string `json:"id"`
	} `json:"SpecialToken"`
	Sequence *struct {
		ID string `json:"id"`
	} `json:"Sequence"`
}

type hfPostProcessor struct {
	Type          string            `json:"type"`
	Single        []hfTemplatePiece `json:"single"`
	SpecialTokens map[string]struct {
		IDs []int `json:"ids"`
	} `json:"special_tokens"`
	Processors []hfPostProcessor `json:"processors"`
}

type hfTokenizerJSON struct {
	Model struct {
		Type         string         `json:"type"`
		Vocab        map[string]int `json:"vocab"`
		Merges       []any          `json:"merges"`
		IgnoreMerges bool           `json:"ignore_merges"`
		UnkToken     string         `json:"unk_token"`
		ByteFallback bool           `json:"byte_fallback"`
		FuseUnk      bool           `json:"fuse_unk"`
	} `json:"model"`
	Normalizer    *hfNormalizer    `json:"normalizer"`
	PreTokenizer  *hfPreTokenizer  `json:"pre_tokenizer"`
	PostProcessor *hfPostProcessor `json:"post_processor"`
	AddedTokens   []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

// LoadHF reads tokenizer.json and an optional tokenizer_config.json.
func LoadHF(tokJSON, tokConfig string) (*HFTokenizer, error) {
	data, err := os.ReadFile(tokJSON)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer.json: %w", err)
	}
	var cfgBytes []byte
	if tokConfig != "" {
		cfgBytes, err = os.ReadFile(tokConfig)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load tokenizer_config.json: %w", err)
		}
	}
	cfg, err := ParseConfig(cfgBytes)
	if err != nil {
		return nil, err
	}
	return LoadHFBytes(data, cfg)
}

// LoadHFBytes builds a tokenizer from tokenizer.json contents.
func LoadHFBytes(tokJSON []byte, cfg Config) (*HFTokenizer, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(tokJSON, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if strings.ToUpper(tj.Model.Type) != "BPE" {
		return nil, fmt.Errorf("unsupported tokenizer model: %q", tj.Model.Type)
	}
	if len(tj.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer.json has an empty vocab")
	}

	t := &HFTokenizer{
		encoder:      make(map[string]int, len(tj.Model.Vocab)+len(tj.AddedTokens)),
		ranks:        parseMerges(tj.Model.Merges),
		addedIDs:     make(map[int]addedToken, len(tj.AddedTokens)),
		cache:        newWordCache(defaultCacheSize),
		byteFallback: tj.Model.ByteFallback,
		fuseUnk:      tj.Model.FuseUnk,
		ignoreMerges: tj.Model.IgnoreMerges,
		bosID:        -1,
		eosID:        -1,
		unkID:        -1,
	}

	maxID := -1
	for tok, id := range tj.Model.Vocab {
		t.encoder[tok] = id
		maxID = max(maxID, id)
	}
	added := make([]addedToken, 0, len(tj.AddedTokens))
	for _, at := range tj.AddedTokens {
		tok := addedToken{id: at.ID, content: at.Content, special: at.Special}
		added = append(added, tok)
		t.addedIDs[at.ID] = tok
		t.encoder[at.Content] = at.ID
		maxID = max(maxID, at.ID)
	}
	t.decoder = make([]string, maxID+1)
	for tok, id := range t.encoder {
		if id >= 0 {
			t.decoder[id] = tok
		}
	}
	t.added = newAddedIndex(added)

	t.mode, t.prepend, t.pattern = detectMode(&tj)
	if t.mode == ByteLevel {
		t.byteEncoder, t.byteDecoder = bytesToUnicode()
	}

	if tj.Model.UnkToken != "" {
		if id, ok := t.encoder[tj.Model.UnkToken]; ok {
			t.unkID = id
		}
	}
	t.applySpecials(&tj, cfg)
	return t, nil
}

func parseMerges(merges []any) map[Pair]int {
	ranks := make(map[Pair]int, len(merges))
	rank := 0
	for _, raw := range merges {
		var a, b string
		switch v := raw.(type) {
		case string:
			var ok bool
			a, b, ok = strings.Cut(v, " ")
			if !ok {
				continue
			}
		case []any:
			if len(v) != 2 {
				continue
			}
			var aok, bok bool
			a, aok = v[0].(string)
			b, bok = v[1].(string)
			if !aok || !bok {
				continue
			}
		default:
			continue
		}
		p := Pair{A: a, B: b}
		if _, ok := ranks[p]; !ok {
			ranks[p] = rank
			rank++
		}
	}
	return ranks
}

// detectMode inspects the normalizer and pre-tokenizer to choose between
// byte-level and SentencePiece handling.
func detectMode(tj *hfTokenizerJSON) (Mode, prependScheme, *regexp.Regexp) {
	if tj.Normalizer != nil {
		replace, prepend := false, false
		walkNormalizers(tj.Normalizer, func(n *hfNormalizer) {
			if n.Type == "Replace" && n.Pattern.String == " " && n.Content == spmSpace {
				replace = true
			}
			if n.Type == "Prepend" && n.Prepend == spmSpace {
				prepend = true
			}
		})
		if replace {
			if prepend {
				return SentencePiece, prependAlways, nil
			}
			return SentencePiece, prependNever, nil
		}
	}

	if pre := findPreTokenizer(tj.PreTokenizer, "Metaspace"); pre != nil {
		scheme := prependAlways
		switch pre.PrependScheme {
		case "first":
			scheme = prependFirst
		case "never":
			scheme = prependNever
		}
		if pre.AddPrefixSpace != nil && !*pre.AddPrefixSpace {
			scheme = prependNever
		}
		return SentencePiece, scheme, nil
	}

	if findPreTokenizer(tj.PreTokenizer, "ByteLevel") == nil && tj.Model.ByteFallback {
		return SentencePiece, prependAlways, nil
	}
	return ByteLevel, prependNever, buildPattern(tj.PreTokenizer)
}

func walkNormalizers(n *hfNormalizer, fn func(*hfNormalizer)) {
	fn(n)
	for i := range n.Normalizers {
		walkNormalizers(&n.Normalizers[i], fn)
	}
}

func findPreTokenizer(pre *hfPreTokenizer, typ string) *hfPreTokenizer {
	if pre == nil {
		return nil
	}
	if pre.Type == typ {
		return pre
	}
	for i := range pre.Pretokenizers {
		if found := findPreTokenizer(&pre.Pretokenizers[i], typ); found != nil {
			return found
		}
	}
	return nil
}

func buildPattern(pre *hfPreTokenizer) *regexp.Regexp {
	pat := `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`
	if split := findPreTokenizer(pre, "Split"); split != nil && split.Pattern.Regex != "" {
		pat = split.Pattern.Regex
	}
	// Llama 3 style patterns use lookahead, which Go regexp lacks.
	if strings.Contains(pat, `(?!\S)`) || strings.Contains(pat, "(?i:") {
		pat = `(?:'[sS]|'[tT]|'[rR][eE]|'[vV][eE]|'[mM]|'[lL][lL]|'[dD])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+`
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return regexp.MustCompile(`'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`)
	}
	return re
}

// applySpecials resolves BOS/EOS ids and insertion. tokenizer_config.json
// flags win over the TemplateProcessing post-processor, which wins over the
// SentencePiece default of a leading BOS.
func (t *HFTokenizer) applySpecials(tj *hfTokenizerJSON, cfg Config) {
	lookup := func(tok string) int {
		if tok == "" {
			return -1
		}
		if id, ok := t.encoder[tok]; ok {
			return id
		}
		return -1
	}
	t.bosID = lookup(cfg.BOSToken)
	t.eosID = lookup(cfg.EOSToken)
	if cfg.UNKToken != "" && t.unkID < 0 {
		t.unkID = lookup(cfg.UNKToken)
	}

	templated := false
	if tp := findTemplateProcessor(tj.PostProcessor); tp != nil {
		templated = true
		seenSequence := false
		for _, piece := range tp.Single {
			switch {
			case piece.Sequence != nil:
				seenSequence = true
			case piece.SpecialToken != nil:
				id := -1
				if spec, ok := tp.SpecialTokens[piece.SpecialToken.ID]; ok && len(spec.IDs) > 0 {
					id = spec.IDs[0]
				} else {
					id = lookup(piece.SpecialToken.ID)
				}
				if id < 0 {
					continue
				}
				if seenSequence {
					t.addEOS, t.eosID = true, id
				} else {
					t.addBOS, t.bosID = true, id
				}
			}
		}
	}

	if t.mode == SentencePiece {
		if t.bosID < 0 {
			t.bosID = lookup("<s>")
		}
		if t.eosID < 0 {
			t.eosID = lookup("</s>")
		}
		if !templated {
			t.addBOS = t.bosID >= 0
		}
	}

	if cfg.AddBOS != nil {
		t.addBOS = *cfg.AddBOS && t.bosID >= 0
	}
	if cfg.AddEOS != nil {
		t.addEOS = *cfg.AddEOS && t.eosID >= 0
	}
}

func findTemplateProcessor(pp *hfPostProcessor) *hfPostProcessor {
	if pp == nil {
		return nil
	}
	if pp.Type == "TemplateProcessing" {
		return pp
	}
	for i := range pp.Processors {
		if found := findTemplateProcessor(&pp.Processors[i]); found != nil {
			return found
		}
	}
	return nil
}

// Encode tokenizes text, inserting BOS/EOS as configured.
func (t *HFTokenizer) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text)/3+2)
	if t.addBOS {
		ids = append(ids, t.bosID)
	}
	var err error
	for _, part := range t.added.split(text) {
		if part.added {
			ids = append(ids, part.id)
			continue
		}
		if t.mode == SentencePiece {
			ids, err = t.encodeSPM(ids, part)
		} else {
			ids, err = t.encodeByteLevel(ids, part.text)
		}
		if err != nil {
			return nil, err
		}
	}
	if t.addEOS {
		ids = append(ids, t.eosID)
	}
	return ids, nil
}

// Count implements Counter with the local vocabulary.
func (t *HFTokenizer) Count(ctx context.Context, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ids, err := t.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (t *HFTokenizer) encodeByteLevel(ids []int, text string) ([]int, error) {
	var b strings.Builder
	for _, word := range t.pattern.FindAllString(text, -1) {
		b.Reset()
		for i := 0; i < len(word); i++ {
			b.WriteString(t.byteEncoder[word[i]])
		}
		for _, piece := range t.bpe(b.String()) {
			id, ok := t.encoder[piece]
			if !ok {
				if t.unkID < 0 {
					return nil, fmt.Errorf("unknown token: %q", piece)
				}
				id = t.unkID
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (t *HFTokenizer) encodeSPM(ids []int, part textPart) ([]int, error) {
	if part.text == "" {
		return ids, nil
	}
	normalized := strings.ReplaceAll(part.text, " ", spmSpace)
	if t.prepend == prependAlways || (t.prepend == prependFirst && part.offset == 0) {
		normalized = spmSpace + normalized
	}

	lastUnk := false
	for _, word := range splitSPMWords(normalized) {
		for _, piece := range t.bpe(word) {
			if id, ok := t.encoder[piece]; ok {
				ids = append(ids, id)
				lastUnk = false
				continue
			}
			if t.byteFallback {
				fallback := true
				for i := 0; i < len(piece); i++ {
					if _, ok := t.encoder[byteToken(piece[i])]; !ok {
						fallback = false
						break
					}
				}
				if fallback {
					for i := 0; i < len(piece); i++ {
						ids = append(ids, t.encoder[byteToken(piece[i])])
					}
					lastUnk = false
					continue
				}
			}
			if t.unkID < 0 {
				return nil, fmt.Errorf("unknown token: %q", piece)
			}
			if t.fuseUnk && lastUnk {
				continue
			}
			ids = append(ids, t.unkID)
			lastUnk = true
		}
	}
	return ids, nil
}

func (t *HFTokenizer) bpe(word string) []string {
	if v, ok := t.cache.get(word); ok {
		return v
	}
	var out []string
	if _, ok := t.encoder[word]; ok && (t.ignoreMerges || len(t.ranks) == 0) {
		out = []string{word}
	} else {
		out = mergeWord(word, t.ranks)
	}
	t.cache.add(word, out)
	return out
}

// Decode converts ids back to text, keeping special tokens.
func (t *HFTokenizer) Decode(ids []int) (string, error) {
	return t.decode(ids, false)
}

// DecodeSkipSpecial converts ids back to text, dropping special tokens.
func (t *HFTokenizer) DecodeSkipSpecial(ids []int) (string, error) {
	return t.decode(ids, true)
}

func (t *HFTokenizer) decode(ids []int, skipSpecial bool) (string, error) {
	b := make([]byte, 0, len(ids)*4)
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		if at, ok := t.addedIDs[id]; ok {
			if at.special && skipSpecial {
				continue
			}
			b = append(b, at.content...)
			continue
		}
		token := t.decoder[id]
		if t.mode == SentencePiece {
			if by, ok := parseByteToken(token); ok {
				b = append(b, by)
				continue
			}
			b = append(b, strings.ReplaceAll(token, spmSpace, " ")...)
			continue
		}
		for _, r := range token {
			if by, ok := t.byteDecoder[r]; ok {
				b = append(b, by)
			} else {
				b = append(b, string(r)...)
			}
		}
	}
	if t.mode == SentencePiece && t.prepend != prependNever && len(b) > 0 && b[0] == ' ' {
		b = b[1:]
	}
	return string(b), nil
}

func (t *HFTokenizer) Mode() Mode       { return t.mode }
func (t *HFTokenizer) VocabSize() int   { return len(t.decoder) }
func (t *HFTokenizer) BOSID() int       { return t.bosID }
func (t *HFTokenizer) EOSID() int       { return t.eosID }
func (t *HFTokenizer) AddBOS() bool     { return t.addBOS }
func (t *HFTokenizer) AddEOS() bool     { return t.addEOS }
func (t *HFTokenizer) AddedTokens() int { return len(t.addedIDs) }
func (t *HFTokenizer) TokenString(id int) string {
	if id < 0 || id >= len(t.decoder) {
		return ""
	}
	return t.decoder[id]
}
