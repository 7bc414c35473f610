package editor

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
)

// EditorConfig holds the editor's settings.
type EditorConfig struct {
	ScrollEnabled bool

	// CursorStyle and StatusStyle render the cell under the cursor and the
	// status bar. Nil leaves the text as is.
	CursorStyle func(string) string
	StatusStyle func(string) string
}

// Editor is the text, cursor and viewport of the local view of the document.
// It never talks to the network; the caller mirrors every edit into the
// replica.
type Editor struct {
	Text   []rune
	Cursor int

	// Width and Height are the terminal size; the last row is the status bar.
	Width  int
	Height int

	// ColOff and RowOff are the first visible column and row.
	ColOff int
	RowOff int

	ShowMsg   bool
	StatusMsg string

	conf EditorConfig
}

func NewEditor(conf EditorConfig) *Editor {
	return &Editor{conf: conf}
}

func (e *Editor) GetText() string {
	return string(e.Text)
}

// SetText replaces the text and clamps the cursor.
func (e *Editor) SetText(text string) {
	e.Text = []rune(text)
	e.clampCursor()
	e.scroll()
}

// Replace swaps in text changed by someone else. The cursor shifts with an
// edit made before it and stays put for one made after it.
func (e *Editor) Replace(text string) {
	next := []rune(text)

	prefix := 0
	for prefix < len(e.Text) && prefix < len(next) && e.Text[prefix] == next[prefix] {
		prefix++
	}
	if prefix < e.Cursor {
		e.Cursor += len(next) - len(e.Text)
		if e.Cursor < prefix {
			e.Cursor = prefix
		}
	}

	e.Text = next
	e.clampCursor()
	e.scroll()
}

func (e *Editor) SetSize(w, h int) {
	e.Width = w
	e.Height = h
	e.scroll()
}

// AddRune inserts r at the cursor and moves past it.
func (e *Editor) AddRune(r rune) {
	e.Text = append(e.Text, 0)
	copy(e.Text[e.Cursor+1:], e.Text[e.Cursor:])
	e.Text[e.Cursor] = r
	e.Cursor++
	e.scroll()
}

// DeleteRune removes the rune before the cursor and returns its index, or
// false at the start of the text.
func (e *Editor) DeleteRune() (int, bool) {
	if e.Cursor == 0 || len(e.Text) == 0 {
		return 0, false
	}
	e.Cursor--
	e.Text = append(e.Text[:e.Cursor], e.Text[e.Cursor+1:]...)
	e.scroll()
	return e.Cursor, true
}

// DeleteForward removes the rune under the cursor.
func (e *Editor) DeleteForward() (int, bool) {
	if e.Cursor >= len(e.Text) {
		return 0, false
	}
	e.Text = append(e.Text[:e.Cursor], e.Text[e.Cursor+1:]...)
	return e.Cursor, true
}

// SetStatus shows msg in the status bar until ClearStatus is called.
func (e *Editor) SetStatus(msg string) {
	e.StatusMsg = msg
	e.ShowMsg = true
}

func (e *Editor) ClearStatus() {
	e.ShowMsg = false
}

// MoveCursor moves the cursor x runes horizontally, or one line up or down
// for a negative or positive y.
func (e *Editor) MoveCursor(x, y int) {
	if len(e.Text) == 0 {
		return
	}

	newCursor := e.Cursor + x
	if y > 0 {
		newCursor = e.lineMove(+1)
	}
	if y < 0 {
		newCursor = e.lineMove(-1)
	}

	e.Cursor = newCursor
	e.clampCursor()
	e.scroll()
}

func (e *Editor) clampCursor() {
	if e.Cursor > len(e.Text) {
		e.Cursor = len(e.Text)
	}
	if e.Cursor < 0 {
		e.Cursor = 0
	}
}

// lineStarts returns the index of the first rune of every line.
func (e *Editor) lineStarts() []int {
	starts := []int{0}
	for i, r := range e.Text {
		if r == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// lineMove returns the cursor one line up or down, keeping the offset into
// the line where the target line is long enough. Moving up from the first
// line goes to the start of the text and moving down from the last goes to
// its end.
func (e *Editor) lineMove(dir int) int {
	starts := e.lineStarts()

	line := len(starts) - 1
	for line > 0 && starts[line] > e.Cursor {
		line--
	}
	offset := e.Cursor - starts[line]

	target := line + dir
	if target < 0 {
		return 0
	}
	if target >= len(starts) {
		return len(e.Text)
	}

	end := len(e.Text)
	if target+1 < len(starts) {
		end = starts[target+1] - 1
	}
	if length := end - starts[target]; offset > length {
		offset = length
	}
	return starts[target] + offset
}

// calcXY calculates the one-based column and row of the rune at index.
func (e *Editor) calcXY(index int) (int, int) {
	x := 1
	y := 1

	if index < 0 {
		return x, y
	}

	if index > len(e.Text) {
		index = len(e.Text)
	}

	for i := 0; i < index; i++ {
		if e.Text[i] == rune('\n') {
			x = 1
			y++
		} else {
			x = x + runewidth.RuneWidth(e.Text[i])
		}
	}
	return x, y
}

func (e *Editor) textRows() int {
	if e.Height <= 1 {
		return 0
	}
	return e.Height - 1
}

// scroll moves the viewport so the cursor stays visible.
func (e *Editor) scroll() {
	if !e.conf.ScrollEnabled {
		return
	}

	x, y := e.calcXY(e.Cursor)
	col, row := x-1, y-1

	if rows := e.textRows(); rows > 0 {
		if row < e.RowOff {
			e.RowOff = row
		}
		if row >= e.RowOff+rows {
			e.RowOff = row - rows + 1
		}
	}

	if e.Width > 0 {
		if col < e.ColOff {
			e.ColOff = col
		}
		if col >= e.ColOff+e.Width {
			e.ColOff = col - e.Width + 1
		}
	}
}

func render(style func(string) string, s string) string {
	if style == nil {
		return s
	}
	return style(s)
}

// View renders the visible part of the text followed by the status bar.
func (e *Editor) View() string {
	var b strings.Builder
	x, y := e.calcXY(e.Cursor)
	cursorCol, cursorRow := x-1, y-1

	lines := strings.Split(string(e.Text), "\n")
	for row := e.RowOff; row < e.RowOff+e.textRows(); row++ {
		if row < len(lines) {
			b.WriteString(e.renderLine([]rune(lines[row]), row == cursorRow, cursorCol))
		}
		b.WriteString("\n")
	}

	b.WriteString(render(e.conf.StatusStyle, e.statusLine()))
	return b.String()
}

// renderLine writes the columns of line inside the viewport.
func (e *Editor) renderLine(line []rune, hasCursor bool, cursorCol int) string {
	var b strings.Builder
	col := 0
	for _, r := range line {
		w := runewidth.RuneWidth(r)
		if col >= e.ColOff && (e.Width == 0 || col+w <= e.ColOff+e.Width) {
			if hasCursor && col == cursorCol {
				b.WriteString(render(e.conf.CursorStyle, string(r)))
			} else {
				b.WriteRune(r)
			}
		}
		col += w
	}
	if hasCursor && cursorCol == col && (e.Width == 0 || col < e.ColOff+e.Width) {
		b.WriteString(render(e.conf.CursorStyle, " "))
	}
	return b.String()
}

func (e *Editor) statusLine() string {
	if e.ShowMsg {
		return e.StatusMsg
	}

	// Show the positions with other details.
	x, y := e.calcXY(e.Cursor)
	return fmt.Sprintf("x=%d, y=%d, cursor=%d, len(text)=%d", x, y, e.Cursor, len(e.Text))
}
