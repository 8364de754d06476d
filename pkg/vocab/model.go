package vocab

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Piece is a vocabulary entry. Its id is its position in Model.Pieces.
type Piece struct {
	Text  string
	Score float32
}

// Model is a trained vocabulary. It is stored as a sentencepiece
// ModelProto, so builtin and spm_train models load the same way.
type Model struct {
	Type   Type
	Pieces []Piece

	ids    map[string]int
	maxLen int
}

// LoadModel reads a sentencepiece .model file.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := unmarshalModel(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.init()
	return m, nil
}

func newModel(t Type, learned []Piece) *Model {
	m := &Model{Type: t}
	for _, s := range specials {
		m.Pieces = append(m.Pieces, Piece{Text: s})
	}
	m.Pieces = append(m.Pieces, learned...)
	m.init()
	return m
}

func (m *Model) init() {
	m.ids = make(map[string]int, len(m.Pieces))
	m.maxLen = 1
	for i, p := range m.Pieces {
		m.ids[p.Text] = i
		if n := utf8.RuneCountInString(p.Text); n > m.maxLen && !isSpecial(p.Text) {
			m.maxLen = n
		}
	}
}

// Len returns the number of pieces, specials included.
func (m *Model) Len() int {
	return len(m.Pieces)
}

// ID returns the id of a piece, or UNKID.
func (m *Model) ID(piece string) int {
	if id, ok := m.ids[piece]; ok {
		return id
	}
	return UNKID
}

// Encode segments text into pieces. Characters outside the vocabulary
// become UNK.
func (m *Model) Encode(text string) []string {
	var out []string
	for _, w := range strings.Fields(norm.NFKC.String(text)) {
		word := []rune(WordBoundary + w)
		switch m.Type {
		case BPE:
			out = append(out, m.encodeBPE(word)...)
		case Unigram:
			out = append(out, m.encodeUnigram(word)...)
		default:
			for _, r := range word {
				out = append(out, m.known(string(r)))
			}
		}
	}
	return out
}

func (m *Model) known(p string) string {
	if _, ok := m.ids[p]; ok {
		return p
	}
	return UNK
}

// encodeBPE repeatedly merges the adjacent pair whose union has the best
// score. Merge pieces are scored by merge order.
func (m *Model) encodeBPE(word []rune) []string {
	syms := make([]string, len(word))
	for i, r := range word {
		syms[i] = string(r)
	}
	for len(syms) > 1 {
		best, at := float32(math.Inf(-1)), -1
		for i := 0; i+1 < len(syms); i++ {
			id, ok := m.ids[syms[i]+syms[i+1]]
			if ok && m.Pieces[id].Score > best {
				best, at = m.Pieces[id].Score, i
			}
		}
		if at < 0 {
			break
		}
		syms[at] += syms[at+1]
		syms = append(syms[:at+1], syms[at+2:]...)
	}
	for i, s := range syms {
		syms[i] = m.known(s)
	}
	return syms
}

// encodeUnigram picks the segmentation with the highest total score.
func (m *Model) encodeUnigram(word []rune) []string {
	const unkPenalty = -100
	n := len(word)
	best := make([]float64, n+1)
	from := make([]int, n+1)
	for i := 1; i <= n; i++ {
		best[i] = math.Inf(-1)
		for j := max(0, i-m.maxLen); j < i; j++ {
			score, ok := m.score(string(word[j:i]))
			if !ok {
				if i-j != 1 {
					continue
				}
				score = unkPenalty
			}
			if s := best[j] + score; s > best[i] {
				best[i], from[i] = s, j
			}
		}
	}
	var rev []string
	for i := n; i > 0; i = from[i] {
		rev = append(rev, m.known(string(word[from[i]:i])))
	}
	out := make([]string, len(rev))
	for i, p := range rev {
		out[len(rev)-1-i] = p
	}
	return out
}

func (m *Model) score(p string) (float64, bool) {
	id, ok := m.ids[p]
	if !ok || id <= UNKID {
		return 0, false
	}
	return float64(m.Pieces[id].Score), true
}

// write stores the model, its .vocab listing and the fairseq dictionary.
func (m *Model) write(prefix string) error {
	if err := os.WriteFile(prefix+".model", marshalModel(m), 0o644); err != nil {
		return err
	}

	f, err := os.Create(prefix + ".vocab")
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	texts := make([]string, len(m.Pieces))
	for i, p := range m.Pieces {
		texts[i] = p.Text
		fmt.Fprintf(w, "%s\t%g\n", p.Text, p.Score)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return writeDict(prefix+".txt", texts)
}
