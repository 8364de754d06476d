package vocab

import (
	"bufio"
	"cmp"
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"os"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/haivivi/speechprep/pkg/corpus"
)

// maxPieceRunes bounds unigram candidate length.
const maxPieceRunes = 8

// Builtin trains vocabularies in process.
//
// Char keeps every character. BPE learns greedy pair merges. Unigram keeps
// the substrings that cover the most text and scores them by log frequency;
// it does not run sentencepiece's EM pruning. When the corpus cannot
// support the requested size, the vocabulary is smaller than asked.
type Builtin struct{}

// Train implements Trainer.
func (Builtin) Train(ctx context.Context, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	words, err := countWords(opts.Input)
	if err != nil {
		return fmt.Errorf("vocab: %w", err)
	}
	if len(words) == 0 {
		return fmt.Errorf("%w: %s has no text", corpus.ErrInvalidArgument, opts.Input)
	}

	chars := charCounts(words)
	var learned []Piece
	switch opts.Type {
	case Char:
		learned = scoreByFrequency(chars)
	case BPE:
		learned, err = trainBPE(ctx, words, chars, opts.Size)
	case Unigram:
		learned, err = trainUnigram(ctx, words, chars, opts.Size)
	}
	if err != nil {
		return err
	}

	m := newModel(opts.Type, learned)
	if opts.Type != Char && m.Len() < opts.Size {
		slog.Warn("vocabulary smaller than requested", "type", opts.Type, "size", m.Len(), "requested", opts.Size)
	}
	if err := m.write(opts.Prefix); err != nil {
		return fmt.Errorf("vocab: write %s: %w", opts.Prefix, err)
	}
	slog.Debug("vocabulary trained", "type", opts.Type, "pieces", m.Len(), "prefix", opts.Prefix)
	return nil
}

// countWords reads NFKC-normalized whitespace-separated words, each prefixed
// with the word boundary marker.
func countWords(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	words := make(map[string]int)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		for _, w := range strings.Fields(norm.NFKC.String(sc.Text())) {
			words[WordBoundary+w]++
		}
	}
	return words, sc.Err()
}

func charCounts(words map[string]int) map[string]int {
	chars := make(map[string]int)
	for w, n := range words {
		for _, r := range w {
			chars[string(r)] += n
		}
	}
	return chars
}

// scoreByFrequency orders pieces by count, then text, and scores them with
// their log relative frequency.
func scoreByFrequency(counts map[string]int) []Piece {
	keys := slices.Collect(maps.Keys(counts))
	slices.SortFunc(keys, func(a, b string) int {
		return cmp.Or(cmp.Compare(counts[b], counts[a]), strings.Compare(a, b))
	})
	total := 0
	for _, n := range counts {
		total += n
	}
	pieces := make([]Piece, len(keys))
	for i, k := range keys {
		pieces[i] = Piece{Text: k, Score: float32(math.Log(float64(counts[k]) / float64(total)))}
	}
	return pieces
}

func budget(size int, chars map[string]int) (int, error) {
	need := size - len(specials) - len(chars)
	if need < 0 {
		return 0, fmt.Errorf("%w: vocab size %d cannot hold %d characters plus %d specials",
			corpus.ErrInvalidArgument, size, len(chars), len(specials))
	}
	return need, nil
}

type pair struct{ a, b string }

type bpeWord struct {
	syms []string
	freq int
}

// trainBPE learns up to size-specials-chars merges. Merges are scored by
// order (first merge highest); characters follow with lower scores.
func trainBPE(ctx context.Context, words map[string]int, chars map[string]int, size int) ([]Piece, error) {
	need, err := budget(size, chars)
	if err != nil {
		return nil, err
	}

	keys := slices.Sorted(maps.Keys(words))
	ws := make([]bpeWord, len(keys))
	counts := make(map[pair]int)
	where := make(map[pair]map[int]struct{})
	for i, k := range keys {
		w := bpeWord{freq: words[k]}
		for _, r := range k {
			w.syms = append(w.syms, string(r))
		}
		ws[i] = w
		addPairs(w, i, counts, where, 1)
	}

	h := &pairHeap{}
	for p, n := range counts {
		heap.Push(h, pairCount{p, n})
	}

	seen := make(map[string]bool, len(chars))
	for c := range chars {
		seen[c] = true
	}
	var merges []string
	for len(merges) < need && h.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		top := heap.Pop(h).(pairCount)
		if counts[top.p] != top.n || top.n == 0 {
			continue // stale
		}
		merged := top.p.a + top.p.b
		if !seen[merged] {
			seen[merged] = true
			merges = append(merges, merged)
		}

		touched := make(map[pair]bool)
		for _, i := range slices.Sorted(maps.Keys(where[top.p])) {
			addPairs(ws[i], i, counts, where, -1)
			ws[i].syms = mergeSyms(ws[i].syms, top.p)
			for p := range addPairs(ws[i], i, counts, where, 1) {
				touched[p] = true
			}
		}
		for p := range touched {
			if counts[p] > 0 {
				heap.Push(h, pairCount{p, counts[p]})
			}
		}
	}

	pieces := make([]Piece, 0, len(merges)+len(chars))
	for i, m := range merges {
		pieces = append(pieces, Piece{Text: m, Score: float32(-i)})
	}
	for i, c := range scoreByFrequency(chars) {
		pieces = append(pieces, Piece{Text: c.Text, Score: float32(-(len(merges) + i))})
	}
	return pieces, nil
}

// addPairs adds (sign 1) or removes (sign -1) the pairs of w from the
// counts and reverse index. It returns the pairs it visited.
func addPairs(w bpeWord, i int, counts map[pair]int, where map[pair]map[int]struct{}, sign int) map[pair]struct{} {
	visited := make(map[pair]struct{})
	for j := 0; j+1 < len(w.syms); j++ {
		p := pair{w.syms[j], w.syms[j+1]}
		counts[p] += sign * w.freq
		visited[p] = struct{}{}
	}
	for p := range visited {
		if sign > 0 {
			if where[p] == nil {
				where[p] = make(map[int]struct{})
			}
			where[p][i] = struct{}{}
		} else {
			delete(where[p], i)
			if counts[p] <= 0 {
				delete(counts, p)
			}
		}
	}
	return visited
}

func mergeSyms(syms []string, p pair) []string {
	out := syms[:0:0]
	for i := 0; i < len(syms); i++ {
		if i+1 < len(syms) && syms[i] == p.a && syms[i+1] == p.b {
			out = append(out, p.a+p.b)
			i++
			continue
		}
		out = append(out, syms[i])
	}
	return out
}

type pairCount struct {
	p pair
	n int
}

// pairHeap pops the most frequent pair; ties go to the smaller pair.
type pairHeap []pairCount

func (h pairHeap) Len() int { return len(h) }
func (h pairHeap) Less(i, j int) bool {
	if h[i].n != h[j].n {
		return h[i].n > h[j].n
	}
	return cmp.Or(strings.Compare(h[i].p.a, h[j].p.a), strings.Compare(h[i].p.b, h[j].p.b)) < 0
}
func (h pairHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *pairHeap) Push(x any)   { *h = append(*h, x.(pairCount)) }
func (h *pairHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// trainUnigram keeps the multi-character substrings with the largest
// coverage (count times length) that occur at least twice.
func trainUnigram(ctx context.Context, words map[string]int, chars map[string]int, size int) ([]Piece, error) {
	need, err := budget(size, chars)
	if err != nil {
		return nil, err
	}

	subs := make(map[string]int)
	for w, n := range words {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rs := []rune(w)
		for i := range rs {
			for j := i + 2; j <= len(rs) && j-i <= maxPieceRunes; j++ {
				subs[string(rs[i:j])] += n
			}
		}
	}
	cands := make([]string, 0, len(subs))
	for s, n := range subs {
		if n >= 2 {
			cands = append(cands, s)
		}
	}
	coverage := func(s string) int { return subs[s] * utf8.RuneCountInString(s) }
	slices.SortFunc(cands, func(a, b string) int {
		return cmp.Or(cmp.Compare(coverage(b), coverage(a)), strings.Compare(a, b))
	})
	if len(cands) > need {
		cands = cands[:need]
	}

	kept := maps.Clone(chars)
	for _, c := range cands {
		kept[c] = subs[c]
	}
	return scoreByFrequency(kept), nil
}
