package checkpoint

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/microlauncher/internal/experiment"
)

// ErrMalformed is wrapped by every parse failure.
var ErrMalformed = errors.New("malformed checkpoint")

// encoder accumulates "key= value" lines.
type encoder struct {
	w   *bufio.Writer
	err error
}

func newEncoder(w io.Writer, header string) *encoder {
	e := &encoder{w: bufio.NewWriter(w)}
	e.line("# " + header)
	return e
}

func (e *encoder) line(s string) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.WriteString(s + "\n")
}

func (e *encoder) raw(key, value string) { e.line(key + "= " + value) }
func (e *encoder) str(key, value string) { e.raw(key, strconv.Quote(value)) }
func (e *encoder) int(key string, v int) { e.raw(key, strconv.Itoa(v)) }
func (e *encoder) bool(key string, v bool) {
	e.raw(key, strconv.FormatBool(v))
}

func (e *encoder) rng(key string, r experiment.Range) {
	e.raw(key, fmt.Sprintf("%d %d %d", r.Start, r.Stop, r.Step))
}

func (e *encoder) flush() error {
	if e.err != nil {
		return e.err
	}
	return e.w.Flush()
}

// decoder holds the parsed pairs of one file and remembers which keys were
// consumed, so leftovers can be reported as unknown.
type decoder struct {
	name   string
	values map[string]string
	used   map[string]bool
	err    error
}

func parse(name string, r io.Reader) (*decoder, error) {
	d := &decoder{name: name, values: make(map[string]string), used: make(map[string]bool)}
	sc := bufio.NewScanner(r)
	for lineno := 1; sc.Scan(); lineno++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %s:%d: expected \"key= value\"", ErrMalformed, name, lineno)
		}
		if _, dup := d.values[key]; dup {
			return nil, fmt.Errorf("%w: %s:%d: duplicate key %s", ErrMalformed, name, lineno, key)
		}
		d.values[key] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return d, nil
}

func (d *decoder) fail(key, format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s: %s: %s", ErrMalformed, d.name, key, fmt.Sprintf(format, args...))
	}
}

func (d *decoder) has(key string) bool {
	_, ok := d.values[key]
	return ok
}

func (d *decoder) lookup(key string) (string, bool) {
	v, ok := d.values[key]
	if !ok {
		d.fail(key, "missing")
		return "", false
	}
	d.used[key] = true
	return v, true
}

func (d *decoder) str(key string) string {
	v, ok := d.lookup(key)
	if !ok {
		return ""
	}
	s, err := strconv.Unquote(v)
	if err != nil {
		d.fail(key, "bad string %s", v)
	}
	return s
}

func (d *decoder) int(key string) int {
	v, ok := d.lookup(key)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		d.fail(key, "bad integer %q", v)
	}
	return n
}

func (d *decoder) bool(key string) bool {
	v, ok := d.lookup(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		d.fail(key, "bad boolean %q", v)
	}
	return b
}

func (d *decoder) rng(key string) experiment.Range {
	v, ok := d.lookup(key)
	if !ok {
		return experiment.Range{}
	}
	var r experiment.Range
	if _, err := fmt.Sscanf(v, "%d %d %d", &r.Start, &r.Stop, &r.Step); err != nil {
		d.fail(key, "bad range %q", v)
	}
	return r
}

// count returns how many consecutive indexed keys prefix.0, prefix.1, ...
// exist. Keys with a suffix (prefix.0.path) are matched by their index.
func (d *decoder) count(prefix string, suffix string) int {
	n := 0
	for d.has(fmt.Sprintf("%s.%d%s", prefix, n, suffix)) {
		n++
	}
	return n
}

// finish reports the first decode error or any key that was never consumed.
func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	var unknown []string
	for key := range d.values {
		if !d.used[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s: unknown keys %s", ErrMalformed, d.name, strings.Join(unknown, ", "))
	}
	return nil
}
