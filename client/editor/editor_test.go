package editor

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddRune(t *testing.T) {
	tests := []struct {
		r        rune
		cursor   int
		expected []rune
	}{
		{r: 'a', cursor: 0, expected: []rune{'a'}},
		{r: 'b', cursor: 1, expected: []rune{'a', 'b'}},
		{r: 'c', cursor: 2, expected: []rune{'a', 'b', 'c'}},
		{r: 'e', cursor: 3, expected: []rune{'a', 'b', 'c', 'e'}},
		{r: 'd', cursor: 3, expected: []rune{'a', 'b', 'c', 'd', 'e'}},
		{r: '世', cursor: 0, expected: []rune{'世', 'a', 'b', 'c', 'd', 'e'}},
	}

	e := NewEditor(EditorConfig{})

	for _, tc := range tests {
		e.Cursor = tc.cursor
		e.AddRune(tc.r)
		if !cmp.Equal(e.Text, tc.expected) {
			t.Errorf("got != expected, diff: %v\n", cmp.Diff(e.Text, tc.expected))
		}
		if e.Cursor != tc.cursor+1 {
			t.Errorf("cursor did not move past %q: got %d", tc.r, e.Cursor)
		}
	}

	// Wide runes take two columns.
	e.Cursor = 1
	if x, _ := e.calcXY(e.Cursor); x != 3 {
		t.Errorf("wrong column after a wide rune: got %d, want 3", x)
	}
}

func TestCalcXY(t *testing.T) {
	tests := []struct {
		description string
		cursor      int
		expected    [2]int
	}{
		{description: "initial position", cursor: 0, expected: [2]int{1, 1}},
		{description: "negative index", cursor: -1, expected: [2]int{1, 1}},
		{description: "normal editing", cursor: 6, expected: [2]int{7, 1}},
		{description: "on the newline", cursor: 7, expected: [2]int{8, 1}},
		{description: "after newline", cursor: 8, expected: [2]int{1, 2}},
		{description: "after a wide rune", cursor: 9, expected: [2]int{3, 2}},
		{description: "after two wide runes", cursor: 10, expected: [2]int{5, 2}},
		{description: "large number", cursor: 100000, expected: [2]int{6, 2}},
	}

	e := NewEditor(EditorConfig{})
	e.Text = []rune("content\n世界x")

	for _, tc := range tests {
		x, y := e.calcXY(tc.cursor)
		if got := [2]int{x, y}; !cmp.Equal(got, tc.expected) {
			t.Errorf("(%s) got != expected, diff: %v\n", tc.description, cmp.Diff(got, tc.expected))
		}
	}
}

func TestMoveCursor(t *testing.T) {
	type move struct {
		description string
		text        string
		cursor      int
		x, y        int
		expected    int
	}

	groups := map[string][]move{
		"horizontal": {
			{description: "forward in an empty document", x: 1},
			{description: "backward in an empty document", x: -1},
			{description: "forward", text: "foo\n", x: 1, expected: 1},
			{description: "backward", text: "foo\n", cursor: 1, x: -1},
			{description: "backward past the start", text: "foo\n", x: -10},
			{description: "forward past the end", text: "foo\n", cursor: 3, x: 2, expected: 4},
			{description: "over a wide rune", text: "世界", cursor: 0, x: 1, expected: 1},
		},
		"vertical": {
			{description: "up", text: "foo\nbar", cursor: 6, y: -1, expected: 2},
			{description: "down moves one line whatever y is", text: "foo\nbar\nbaz", cursor: 1, y: 2, expected: 5},
			{description: "up in an empty document", y: -1},
			{description: "down in an empty document", y: 1},
			{description: "up from the first line", text: "foo\nbar", cursor: 1, y: -1},
			{description: "down from the last line", text: "foo\nbar", cursor: 4, y: 1, expected: 7},
			{description: "up from the middle line", text: "foo\nbar\nbaz", cursor: 5, y: -1, expected: 1},
			{description: "down from the middle line", text: "foo\nbar\nbaz", cursor: 5, y: 1, expected: 9},
			{description: "up from a newline", text: "foo\nbar\nbaz", cursor: 7, y: -1, expected: 3},
			{description: "down from a newline", text: "foo\nbar\nbaz", cursor: 3, y: 1, expected: 7},
			{description: "up onto a shorter line", text: "foo\nbare\nbaz", cursor: 8, y: -1, expected: 3},
			{description: "down onto a shorter line", text: "fool\nbar\nbaz", cursor: 4, y: 1, expected: 8},
			{description: "up onto a longer line", text: "fool\nbar\nbaz", cursor: 8, y: -1, expected: 3},
			{description: "down keeps the rune offset across wide runes", text: "世界\nabc", cursor: 1, y: 1, expected: 4},
		},
		"empty lines": {
			{description: "up from an empty line", text: "foo\n\nbaz", cursor: 4, y: -1},
			{description: "down from an empty line", text: "fool\n\nbaz", cursor: 5, y: 1, expected: 6},
			{description: "up between empty lines", text: "foo\n\n\n", cursor: 5, y: -1, expected: 4},
			{description: "down between empty lines", text: "\n\n\nfoo", cursor: 1, y: 1, expected: 2},
			{description: "up from an empty last line", text: "\n\nfoo\n", cursor: 6, y: -1, expected: 2},
			{description: "down from an empty first line", text: "\nfoo\n\n", y: 1, expected: 1},
			{description: "down onto an empty last line", text: "\nfoo\n\n", cursor: 6, y: 1, expected: 6},
			{description: "up onto an empty line", text: "\n\nfoo", cursor: 2, y: -1, expected: 1},
			{description: "down onto an empty line", text: "foo\n\n", cursor: 2, y: 1, expected: 4},
		},
	}

	for name, moves := range groups {
		t.Run(name, func(t *testing.T) {
			e := NewEditor(EditorConfig{})
			for _, tc := range moves {
				e.Text = []rune(tc.text)
				e.Cursor = tc.cursor
				e.MoveCursor(tc.x, tc.y)

				if !cmp.Equal(e.Cursor, tc.expected) {
					t.Errorf("(%s) got != expected, diff: %v\n", tc.description, cmp.Diff(e.Cursor, tc.expected))
				}
			}
		})
	}
}

// TestScroll checks that the viewport follows the cursor. The last row of
// the terminal is the status bar, so a height of h leaves h-1 text rows.
func TestScroll(t *testing.T) {
	type offsets struct {
		Cursor, RowOff, ColOff int
	}

	tests := []struct {
		description string
		height      int
		text        string
		x, y        int
		start       offsets
		expected    offsets
		// firstRow is the top line of View; empty when no text row fits.
		firstRow string
	}{
		{description: "scroll down",
			height: 5, text: "a\nb\nc\nd\ne", y: 1,
			start:    offsets{Cursor: 6},
			expected: offsets{Cursor: 8, RowOff: 1},
			firstRow: "b"},

		{description: "scroll up",
			height: 5, text: "a\nb\nc\nd\ne", y: -1,
			start:    offsets{Cursor: 2, RowOff: 1},
			expected: offsets{Cursor: 0},
			firstRow: "a"},

		{description: "status bar takes the last row",
			height: 3, text: "a\nb\nc", y: 1,
			start:    offsets{Cursor: 2},
			expected: offsets{Cursor: 4, RowOff: 1},
			firstRow: "b"},

		{description: "single text row",
			height: 2, text: "a\nb\nc", y: 1,
			start:    offsets{},
			expected: offsets{Cursor: 2, RowOff: 1},
			firstRow: "b"},

		{description: "no text rows",
			height: 1, text: "a\nb\nc", y: 1,
			start:    offsets{},
			expected: offsets{Cursor: 2}},

		{description: "scroll right",
			height: 5, text: "abcde", x: 1,
			start:    offsets{Cursor: 4},
			expected: offsets{Cursor: 5, ColOff: 1},
			firstRow: "bcde "},

		{description: "scroll left",
			height: 5, text: "abcde", x: -1,
			start:    offsets{Cursor: 1, ColOff: 1},
			expected: offsets{Cursor: 0},
			firstRow: "abcde"},

		{description: "horizontal jump backwards",
			height: 5, text: "abcdefgh\nijk", x: 1,
			start:    offsets{Cursor: 8, ColOff: 4},
			expected: offsets{Cursor: 9},
			firstRow: "abcde"},

		{description: "horizontal jump forwards",
			height: 5, text: "abcdefgh\nijk", x: -1,
			start:    offsets{Cursor: 9},
			expected: offsets{Cursor: 8, ColOff: 4},
			firstRow: "efgh "},
	}

	e := NewEditor(EditorConfig{ScrollEnabled: true})
	e.Width = 5

	for _, tc := range tests {
		e.Height = tc.height
		e.Text = []rune(tc.text)
		e.Cursor, e.RowOff, e.ColOff = tc.start.Cursor, tc.start.RowOff, tc.start.ColOff

		e.MoveCursor(tc.x, tc.y)

		got := offsets{Cursor: e.Cursor, RowOff: e.RowOff, ColOff: e.ColOff}
		if !cmp.Equal(got, tc.expected) {
			t.Errorf("(%s) got != expected, diff: %v\n", tc.description, cmp.Diff(got, tc.expected))
		}

		rows := strings.Split(e.View(), "\n")
		if want := tc.height; len(rows) != want {
			t.Errorf("(%s) got %d rows, expected %d\n", tc.description, len(rows), want)
		}
		if tc.firstRow != "" && rows[0] != tc.firstRow {
			t.Errorf("(%s) got first row %q, expected %q\n", tc.description, rows[0], tc.firstRow)
		}
	}
}

func TestEditing(t *testing.T) {
	e := NewEditor(EditorConfig{})
	for _, r := range "helo" {
		e.AddRune(r)
	}
	e.MoveCursor(-1, 0)
	e.AddRune('l')

	if got, want := e.GetText(), "hello"; got != want {
		t.Errorf("got != want, diff: %v\n", cmp.Diff(got, want))
	}
	if got, want := e.Cursor, 4; got != want {
		t.Errorf("wrong cursor: got %d, want %d", got, want)
	}

	index, ok := e.DeleteRune()
	if !ok || index != 3 {
		t.Errorf("DeleteRune() = %d, %v; want 3, true", index, ok)
	}
	index, ok = e.DeleteForward()
	if !ok || index != 3 {
		t.Errorf("DeleteForward() = %d, %v; want 3, true", index, ok)
	}
	if got, want := e.GetText(), "hel"; got != want {
		t.Errorf("got != want, diff: %v\n", cmp.Diff(got, want))
	}

	e.Cursor = 0
	if _, ok := e.DeleteRune(); ok {
		t.Errorf("DeleteRune() at the start of the text should do nothing")
	}
	e.Cursor = 3
	if _, ok := e.DeleteForward(); ok {
		t.Errorf("DeleteForward() at the end of the text should do nothing")
	}
}

func TestReplace(t *testing.T) {
	tests := []struct {
		description    string
		text           string
		cursor         int
		replacement    string
		expectedCursor int
	}{
		{description: "insert before cursor", text: "world", cursor: 2, replacement: "hello world", expectedCursor: 8},
		{description: "insert after cursor", text: "hello", cursor: 2, replacement: "hello world", expectedCursor: 2},
		{description: "insert at cursor", text: "ab", cursor: 1, replacement: "axb", expectedCursor: 1},
		{description: "delete before cursor", text: "hello world", cursor: 8, replacement: "world", expectedCursor: 2},
		{description: "delete around cursor", text: "abcdef", cursor: 3, replacement: "af", expectedCursor: 1},
		{description: "cleared", text: "abc", cursor: 3, replacement: "", expectedCursor: 0},
	}

	for _, tc := range tests {
		e := NewEditor(EditorConfig{})
		e.SetText(tc.text)
		e.Cursor = tc.cursor
		e.Replace(tc.replacement)

		if !cmp.Equal(e.Cursor, tc.expectedCursor) {
			t.Errorf("(%s) got != expected, diff: %v\n", tc.description, cmp.Diff(e.Cursor, tc.expectedCursor))
		}
		if got := e.GetText(); got != tc.replacement {
			t.Errorf("(%s) wrong text: got %q, want %q", tc.description, got, tc.replacement)
		}
	}
}

func TestView(t *testing.T) {
	e := NewEditor(EditorConfig{
		CursorStyle: func(s string) string { return "[" + s + "]" },
	})
	e.SetSize(4, 3)
	e.SetText("abcdef\ngh\nij")
	e.Cursor = 8

	tests := []struct {
		description string
		rowOff      int
		expected    string
	}{
		{description: "clipped first line", rowOff: 0, expected: "abcd\ng[h]\nx=2, y=2, cursor=8, len(text)=12"},
		{description: "scrolled", rowOff: 1, expected: "g[h]\nij\nx=2, y=2, cursor=8, len(text)=12"},
	}

	for _, tc := range tests {
		e.RowOff = tc.rowOff
		got := e.View()
		if got != tc.expected {
			t.Errorf("(%s) got != expected, diff: %v\n", tc.description, cmp.Diff(got, tc.expected))
		}
	}

	e.Cursor = 12
	e.RowOff = 1
	if got, want := e.View(), "gh\nij[ ]\nx=3, y=3, cursor=12, len(text)=12"; got != want {
		t.Errorf("(cursor at end) got != want, diff: %v\n", cmp.Diff(got, want))
	}

	e.SetStatus("alice joined")
	if got := e.statusLine(); got != "alice joined" {
		t.Errorf("status line: got %q", got)
	}
	e.ClearStatus()
	if e.ShowMsg {
		t.Errorf("status message still shown after ClearStatus")
	}
}
