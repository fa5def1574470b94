package crossword

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
)

func words(pairs ...string) []entity.CrosswordWord {
	var out []entity.CrosswordWord
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, entity.CrosswordWord{Answer: pairs[i], Clue: pairs[i+1]})
	}
	return out
}

var biology = words(
	"mitochondria", "Powerhouse of the cell",
	"nucleus", "Holds the DNA",
	"ribosome", "Builds proteins",
	"cell", "Basic unit of life",
	"enzyme", "Biological catalyst",
	"osmosis", "Water crossing a membrane",
	"atp", "Energy currency",
)

// runs returns every maximal horizontal and vertical run of two or more letters.
func runs(grid []string) map[string]int {
	out := map[string]int{}
	add := func(s string) {
		if len(s) >= 2 {
			out[s]++
		}
	}
	for _, row := range grid {
		cur := ""
		for i := 0; i < len(row); i++ {
			if row[i] == blank {
				add(cur)
				cur = ""
				continue
			}
			cur += string(row[i])
		}
		add(cur)
	}
	if len(grid) == 0 {
		return out
	}
	for c := 0; c < len(grid[0]); c++ {
		cur := ""
		for r := range grid {
			if grid[r][c] == blank {
				add(cur)
				cur = ""
				continue
			}
			cur += string(grid[r][c])
		}
		add(cur)
	}
	return out
}

func TestLayoutProducesValidGrid(t *testing.T) {
	cw := Layout(biology, 15)
	require.NotEmpty(t, cw.Entries)
	require.Len(t, cw.Grid, cw.Rows)
	assert.LessOrEqual(t, cw.Rows, 15)
	assert.LessOrEqual(t, cw.Cols, 15)

	// the longest word anchors the grid across
	var anchored bool
	for _, e := range cw.Entries {
		if e.Answer == "MITOCHONDRIA" {
			anchored = e.Direction == Across
		}
	}
	assert.True(t, anchored)

	want := map[string]int{}
	for _, e := range cw.Entries {
		dr, dc := step(e.Direction)
		for i := 0; i < len(e.Answer); i++ {
			assert.Equal(t, e.Answer[i], cw.Grid[e.Row+dr*i][e.Col+dc*i], "letter %d of %s", i, e.Answer)
		}
		want[e.Answer]++
		assert.Positive(t, e.Number)
	}
	// no accidental words: every run on the grid is a placed answer
	assert.Equal(t, want, runs(cw.Grid))
	assert.Equal(t, len(biology), len(cw.Entries)+len(cw.Unplaced))
}

func TestLayoutIsDeterministic(t *testing.T) {
	a := Layout(biology, 15)
	b := Layout(biology, 15)
	assert.Equal(t, a, b)
}

func TestLayoutNumbering(t *testing.T) {
	cw := Layout(words("cat", "Pet", "tac", "Reverse pet", "act", "Do"), 10)
	prev := 0
	for _, e := range cw.Entries {
		assert.GreaterOrEqual(t, e.Number, prev)
		prev = e.Number
	}
	assert.Equal(t, 1, cw.Entries[0].Number)
	assert.Equal(t, 0, cw.Entries[0].Row)
}

func TestLayoutUnplaceable(t *testing.T) {
	cw := Layout(words("abc", "first", "xyz", "no shared letters", "a", "too short", "ABC", "duplicate"), 10)
	require.Len(t, cw.Entries, 1)
	assert.Equal(t, "ABC", cw.Entries[0].Answer)
	assert.Len(t, cw.Unplaced, 3)
	assert.Equal(t, []string{"ABC"}, cw.Grid)
}

func TestLayoutRespectsMaxSize(t *testing.T) {
	in := words("abcdef", "a", "fghijk", "b", "klmnop", "c")
	cw := Layout(in, 6)
	require.Len(t, cw.Entries, 2)
	require.Len(t, cw.Unplaced, 1)
	assert.Equal(t, "KLMNOP", cw.Unplaced[0].Answer)
	assert.Equal(t, 6, cw.Rows)
	assert.Equal(t, 6, cw.Cols)

	assert.Len(t, Layout(in, 15).Entries, 3)
}

func TestNormalizeAnswer(t *testing.T) {
	assert.Equal(t, "CELLWALL", NormalizeAnswer(" cell-wall 2"))
	assert.Equal(t, "", NormalizeAnswer("123"))
}

func TestLayoutEmpty(t *testing.T) {
	cw := Layout(nil, 0)
	assert.Empty(t, cw.Entries)
	assert.Zero(t, cw.Rows)
}
