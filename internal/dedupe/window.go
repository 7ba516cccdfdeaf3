package dedupe

// entry is one distinct key remembered for fuzzy matching.
type entry struct {
	key   string
	text  []rune
	group int64
}

// window is a fixed-capacity ring of the most recently seen distinct keys.
// Pushing past capacity evicts the oldest entry.
type window struct {
	buf  []entry
	next int
	full bool
}

func newWindow(capacity int) *window {
	if capacity < 1 {
		capacity = 1
	}
	return &window{buf: make([]entry, capacity)}
}

func (w *window) push(e entry) {
	w.buf[w.next] = e
	w.next = (w.next + 1) % len(w.buf)
	if w.next == 0 {
		w.full = true
	}
}

func (w *window) len() int {
	if w.full {
		return len(w.buf)
	}
	return w.next
}

// each visits entries newest first and stops when fn returns false.
func (w *window) each(fn func(entry) bool) {
	n := w.len()
	for i := 1; i <= n; i++ {
		idx := (w.next - i + len(w.buf)) % len(w.buf)
		if !fn(w.buf[idx]) {
			return
		}
	}
}
