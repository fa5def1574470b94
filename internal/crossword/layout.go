// Package crossword places clue answers on a grid.
package crossword

import (
	"regexp"
	"sort"
	"strings"

	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
)

const (
	Across = "across"
	Down   = "down"

	// DefaultMaxSize bounds both grid dimensions.
	DefaultMaxSize = 15
	blank          = '.'
)

var reNonLetter = regexp.MustCompile(`[^A-Z]`)

type pos struct{ r, c int }

type cell struct {
	ch     byte
	across bool
	down   bool
}

type grid struct {
	cells                  map[pos]*cell
	minR, maxR, minC, maxC int
	maxSize                int
}

type placement struct {
	word  entity.CrosswordWord
	start pos
	dir   string
}

// NormalizeAnswer uppercases and keeps only A-Z.
func NormalizeAnswer(s string) string {
	return reNonLetter.ReplaceAllString(strings.ToUpper(s), "")
}

// Layout places words greedily, longest first. Every word after the first must cross an
// existing letter and may not run alongside a parallel neighbour. The result is
// deterministic for a given input order.
func Layout(words []entity.CrosswordWord, maxSize int) entity.Crossword {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	var (
		cleaned  []entity.CrosswordWord
		unplaced []entity.CrosswordWord
		seen     = map[string]bool{}
	)
	for _, w := range words {
		a := NormalizeAnswer(w.Answer)
		clue := strings.TrimSpace(w.Clue)
		if len(a) < 2 || len(a) > maxSize || seen[a] || clue == "" {
			unplaced = append(unplaced, entity.CrosswordWord{Answer: a, Clue: clue})
			continue
		}
		seen[a] = true
		cleaned = append(cleaned, entity.CrosswordWord{Answer: a, Clue: clue})
	}

	order := make([]entity.CrosswordWord, len(cleaned))
	copy(order, cleaned)
	sort.SliceStable(order, func(i, j int) bool { return len(order[i].Answer) > len(order[j].Answer) })

	g := &grid{cells: map[pos]*cell{}, maxSize: maxSize}
	var placed []placement
	var pending []entity.CrosswordWord
	for _, w := range order {
		if len(placed) == 0 {
			p := placement{word: w, start: pos{0, 0}, dir: Across}
			g.put(p)
			placed = append(placed, p)
			continue
		}
		if p, ok := g.best(w); ok {
			g.put(p)
			placed = append(placed, p)
		} else {
			pending = append(pending, w)
		}
	}
	// a second pass: later words may have opened crossings for earlier rejects
	for _, w := range pending {
		if p, ok := g.best(w); ok {
			g.put(p)
			placed = append(placed, p)
		} else {
			unplaced = append(unplaced, w)
		}
	}

	return g.render(cleaned, placed, unplaced)
}

func step(dir string) (int, int) {
	if dir == Across {
		return 0, 1
	}
	return 1, 0
}

func (g *grid) at(r, c int) *cell { return g.cells[pos{r, c}] }

func (g *grid) put(p placement) {
	dr, dc := step(p.dir)
	for i := 0; i < len(p.word.Answer); i++ {
		r, c := p.start.r+dr*i, p.start.c+dc*i
		cl := g.at(r, c)
		if cl == nil {
			cl = &cell{ch: p.word.Answer[i]}
			g.cells[pos{r, c}] = cl
		}
		if p.dir == Across {
			cl.across = true
		} else {
			cl.down = true
		}
		if len(g.cells) == 1 {
			g.minR, g.maxR, g.minC, g.maxC = r, r, c, c
		}
		g.minR, g.maxR = min(g.minR, r), max(g.maxR, r)
		g.minC, g.maxC = min(g.minC, c), max(g.maxC, c)
	}
}

// best returns the placement with most crossings, then the smallest bounding box.
func (g *grid) best(w entity.CrosswordWord) (placement, bool) {
	keys := make([]pos, 0, len(g.cells))
	for k := range g.cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].r != keys[j].r {
			return keys[i].r < keys[j].r
		}
		return keys[i].c < keys[j].c
	})

	var (
		bestP     placement
		bestCross = 0
		bestArea  = 0
		found     bool
	)
	for _, k := range keys {
		ch := g.cells[k].ch
		for i := 0; i < len(w.Answer); i++ {
			if w.Answer[i] != ch {
				continue
			}
			for _, dir := range []string{Across, Down} {
				dr, dc := step(dir)
				p := placement{word: w, start: pos{k.r - dr*i, k.c - dc*i}, dir: dir}
				cross, area, ok := g.fits(p)
				if !ok {
					continue
				}
				if !found || cross > bestCross || (cross == bestCross && area < bestArea) {
					bestP, bestCross, bestArea, found = p, cross, area, true
				}
			}
		}
	}
	return bestP, found
}

// fits checks p against the grid and returns its crossings and the resulting bounding area.
func (g *grid) fits(p placement) (int, int, bool) {
	dr, dc := step(p.dir)
	n := len(p.word.Answer)

	// the cells just before and after the word must be empty
	if g.at(p.start.r-dr, p.start.c-dc) != nil || g.at(p.start.r+dr*n, p.start.c+dc*n) != nil {
		return 0, 0, false
	}

	cross := 0
	for i := 0; i < n; i++ {
		r, c := p.start.r+dr*i, p.start.c+dc*i
		if cl := g.at(r, c); cl != nil {
			if cl.ch != p.word.Answer[i] {
				return 0, 0, false
			}
			if (p.dir == Across && cl.across) || (p.dir == Down && cl.down) {
				return 0, 0, false
			}
			cross++
			continue
		}
		// an empty cell may not touch a letter on either side perpendicular to the word
		if g.at(r+dc, c+dr) != nil || g.at(r-dc, c-dr) != nil {
			return 0, 0, false
		}
	}
	if cross == 0 {
		return 0, 0, false
	}

	endR, endC := p.start.r+dr*(n-1), p.start.c+dc*(n-1)
	minR, maxR := min(g.minR, p.start.r), max(g.maxR, endR)
	minC, maxC := min(g.minC, p.start.c), max(g.maxC, endC)
	rows, cols := maxR-minR+1, maxC-minC+1
	if rows > g.maxSize || cols > g.maxSize {
		return 0, 0, false
	}
	return cross, rows * cols, true
}

func (g *grid) render(words []entity.CrosswordWord, placed []placement, unplaced []entity.CrosswordWord) entity.Crossword {
	out := entity.Crossword{Words: words, Unplaced: unplaced}
	if len(placed) == 0 {
		return out
	}
	out.Rows = g.maxR - g.minR + 1
	out.Cols = g.maxC - g.minC + 1

	rows := make([][]byte, out.Rows)
	for r := range rows {
		rows[r] = []byte(strings.Repeat(string(blank), out.Cols))
	}
	for k, cl := range g.cells {
		rows[k.r-g.minR][k.c-g.minC] = cl.ch
	}
	for _, r := range rows {
		out.Grid = append(out.Grid, string(r))
	}

	// number start cells in reading order
	starts := map[pos]int{}
	for _, p := range placed {
		starts[pos{p.start.r - g.minR, p.start.c - g.minC}] = 0
	}
	keys := make([]pos, 0, len(starts))
	for k := range starts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].r != keys[j].r {
			return keys[i].r < keys[j].r
		}
		return keys[i].c < keys[j].c
	})
	for i, k := range keys {
		starts[k] = i + 1
	}

	for _, p := range placed {
		s := pos{p.start.r - g.minR, p.start.c - g.minC}
		out.Entries = append(out.Entries, entity.CrosswordEntry{
			CrosswordWord: p.word,
			Row:           s.r,
			Col:           s.c,
			Direction:     p.dir,
			Number:        starts[s],
		})
	}
	sort.SliceStable(out.Entries, func(i, j int) bool {
		if out.Entries[i].Number != out.Entries[j].Number {
			return out.Entries[i].Number < out.Entries[j].Number
		}
		return out.Entries[i].Direction == Across && out.Entries[j].Direction == Down
	})
	return out
}
