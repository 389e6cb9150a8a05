package manifest

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Lixing-Zhang/foodprep/internal/models"
)

const (
	listMarker  = "food_list = ["
	listEnd     = "];"
	aliasPrefix = "food_"

	entryIndent = "    "
	fieldIndent = "        "
)

var (
	importRe = regexp.MustCompile(`^import\s+([A-Za-z_$][\w$]*)\s+from\s+["']([^"']+)["'];?\s*$`)
	idRe     = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// Import is one `import <alias> from "<path>";` line
type Import struct {
	Alias string
	Path  string
}

// Field is one key/value pair of an entry literal. Value holds the literal as written,
// quotes included; an empty Value is a shorthand property.
type Field struct {
	Key   string
	Value string
}

// Entry is one object literal in food_list
type Entry struct {
	Fields []Field
}

// AliasFor returns the import alias that pairs an entry with its image
func AliasFor(id string) string {
	return aliasPrefix + id
}

// NewEntry renders a catalog record as a manifest entry, rejecting any field that
// cannot be emitted as a plain double-quoted literal
func NewEntry(rec models.CatalogRecord) (Entry, error) {
	if !idRe.MatchString(rec.ID) {
		return Entry{}, &ValidationError{Field: "_id", Value: rec.ID, Err: ErrUnsafeText}
	}
	if rec.Price <= 0 || math.IsInf(rec.Price, 0) || math.IsNaN(rec.Price) {
		return Entry{}, &ValidationError{Field: "price", Value: fmt.Sprint(rec.Price), Err: ErrUnsafeText}
	}
	for _, f := range []struct{ name, value string }{
		{"name", rec.Name},
		{"description", rec.Description},
		{"category", rec.Category},
	} {
		if err := checkText(f.name, f.value); err != nil {
			return Entry{}, err
		}
	}

	return Entry{Fields: []Field{
		{Key: "_id", Value: quote(rec.ID)},
		{Key: "name", Value: quote(rec.Name)},
		{Key: "image", Value: AliasFor(rec.ID)},
		{Key: "price", Value: strconv.FormatFloat(rec.Price, 'f', -1, 64)},
		{Key: "description", Value: quote(rec.Description)},
		{Key: "category", Value: quote(rec.Category)},
	}}, nil
}

// Get returns the unquoted value of key
func (e Entry) Get(key string) (string, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return unquote(f.Value), true
		}
	}
	return "", false
}

// ID returns the entry's _id, or "" if it has none
func (e Entry) ID() string {
	id, _ := e.Get("_id")
	return id
}

// Document is the parsed form of a manifest file
type Document struct {
	header   []string // leading comment lines
	imports  []Import
	preamble string // text between the import block and the list marker
	entries  []Entry
	trailer  string // everything after the list terminator, menu list included
}

// Parse splits manifest text into its structural regions
func Parse(text string) (*Document, error) {
	d := &Document{}
	pos := d.scanHead(text)

	rest := text[pos:]
	idx := strings.Index(rest, listMarker)
	if idx < 0 {
		return nil, &ParseError{Offset: pos, Err: ErrMissingEntryListMarker}
	}
	d.preamble = rest[:idx]

	bodyStart := pos + idx + len(listMarker)
	end := findListEnd(text, bodyStart)
	if end < 0 {
		return nil, &ParseError{Offset: bodyStart, Err: ErrUnterminatedEntryList}
	}

	entries, err := parseEntries(text[bodyStart:end], bodyStart)
	if err != nil {
		return nil, err
	}
	d.entries = entries

	after := end + 1
	if after < len(text) && text[after] == ';' {
		after++
	}
	d.trailer = text[after:]

	return d, nil
}

// scanHead consumes leading comment lines and the contiguous import block,
// returning the offset of the first byte after them
func (d *Document) scanHead(text string) int {
	pos := 0
	var header []string
	headerEnd, lastComment := 0, 0

	for pos < len(text) {
		line, next := nextLine(text, pos)
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "//") {
			break
		}
		header = append(header, line)
		if trimmed != "" {
			lastComment = len(header)
		}
		pos = next
	}
	headerEnd = pos

	for pos < len(text) {
		line, next := nextLine(text, pos)
		m := importRe.FindStringSubmatch(line)
		if m == nil {
			break
		}
		d.imports = append(d.imports, Import{Alias: m[1], Path: m[2]})
		pos = next
	}

	if len(d.imports) > 0 {
		d.header = header
		return pos
	}

	// Without imports, blank lines after the last comment belong to the preamble.
	d.header = header[:lastComment]
	consumed := 0
	for _, l := range d.header {
		consumed += len(l) + 1
	}
	if consumed > headerEnd {
		consumed = headerEnd
	}
	return consumed
}

func nextLine(text string, pos int) (string, int) {
	if i := strings.IndexByte(text[pos:], '\n'); i >= 0 {
		return text[pos : pos+i], pos + i + 1
	}
	return text[pos:], len(text)
}

// HasEntry reports whether the image alias for id is already imported
func (d *Document) HasEntry(id string) bool {
	alias := AliasFor(id)
	for _, imp := range d.imports {
		if imp.Alias == alias {
			return true
		}
	}
	return false
}

// InsertEntry appends the entry's import to the import block and places the entry
// first in the list. A stale block with the same _id is replaced, never duplicated.
func (d *Document) InsertEntry(e Entry, importPath string) error {
	if err := checkText("image", importPath); err != nil {
		return err
	}
	id := e.ID()
	if id == "" {
		return &ValidationError{Field: "_id", Value: id, Err: ErrUnsafeText}
	}

	if !d.HasEntry(id) {
		d.imports = append(d.imports, Import{Alias: AliasFor(id), Path: importPath})
	}

	entries := make([]Entry, 0, len(d.entries)+1)
	entries = append(entries, e)
	for _, existing := range d.entries {
		if existing.ID() != id {
			entries = append(entries, existing)
		}
	}
	d.entries = entries

	return nil
}

// RemoveEntry drops the import and entry block for id. When exactly one of the two
// was present, the removal still happens and a *DriftWarning is returned.
func (d *Document) RemoveEntry(id string) error {
	alias := AliasFor(id)

	imported := false
	imports := d.imports[:0]
	for _, imp := range d.imports {
		if imp.Alias == alias {
			imported = true
			continue
		}
		imports = append(imports, imp)
	}
	d.imports = imports

	listed := false
	entries := d.entries[:0]
	for _, e := range d.entries {
		if e.ID() == id {
			listed = true
			continue
		}
		entries = append(entries, e)
	}
	d.entries = entries

	if imported != listed {
		return &DriftWarning{ID: id, ImageImported: imported, EntryListed: listed}
	}
	return nil
}

// Imports returns a copy of the import block
func (d *Document) Imports() []Import {
	return append([]Import(nil), d.imports...)
}

// Entries returns a copy of the entry list in display order
func (d *Document) Entries() []Entry {
	return append([]Entry(nil), d.entries...)
}

// EntryIDs returns the _id of every entry in display order
func (d *Document) EntryIDs() []string {
	ids := make([]string, 0, len(d.entries))
	for _, e := range d.entries {
		ids = append(ids, e.ID())
	}
	return ids
}

// Serialize renders the document back to text
func (d *Document) Serialize() string {
	var b strings.Builder

	for _, line := range d.header {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for _, imp := range d.imports {
		fmt.Fprintf(&b, "import %s from \"%s\";\n", imp.Alias, imp.Path)
	}

	b.WriteString(d.preamble)
	b.WriteString(listMarker)
	b.WriteByte('\n')

	for _, e := range d.entries {
		b.WriteString(entryIndent)
		b.WriteString("{\n")
		for i, f := range e.Fields {
			b.WriteString(fieldIndent)
			b.WriteString(f.Key)
			if f.Value != "" {
				b.WriteString(": ")
				b.WriteString(f.Value)
			}
			if i < len(e.Fields)-1 {
				b.WriteByte(',')
			}
			b.WriteByte('\n')
		}
		b.WriteString(entryIndent)
		b.WriteString("},\n")
	}

	b.WriteString(listEnd)
	b.WriteString(d.trailer)

	return b.String()
}

func checkText(field, value string) error {
	if strings.ContainsAny(value, "\"\\\r\n") {
		return &ValidationError{Field: field, Value: value, Err: ErrUnsafeText}
	}
	return nil
}

func quote(s string) string {
	return `"` + s + `"`
}

func unquote(s string) string {
	if len(s) >= 2 {
		q := s[0]
		if (q == '"' || q == '\'' || q == '`') && s[len(s)-1] == q {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// skipLiteral returns the index just past the string literal or comment starting
// at i, or i itself when neither starts there
func skipLiteral(s string, i int) int {
	switch c := s[i]; c {
	case '"', '\'', '`':
		for j := i + 1; j < len(s); j++ {
			switch s[j] {
			case '\\':
				j++
			case c:
				return j + 1
			}
		}
		return len(s)
	case '/':
		if i+1 >= len(s) {
			return i
		}
		switch s[i+1] {
		case '/':
			if k := strings.IndexByte(s[i:], '\n'); k >= 0 {
				return i + k
			}
			return len(s)
		case '*':
			if k := strings.Index(s[i+2:], "*/"); k >= 0 {
				return i + 2 + k + 2
			}
			return len(s)
		}
	}
	return i
}

// findListEnd returns the offset of the first unmatched ']' at or after start
func findListEnd(s string, start int) int {
	depth := 0
	for i := start; i < len(s); {
		if j := skipLiteral(s, i); j != i {
			i = j
			continue
		}
		switch s[i] {
		case '[', '{', '(':
			depth++
		case ']', '}', ')':
			if depth == 0 {
				if s[i] == ']' {
					return i
				}
				return -1
			}
			depth--
		}
		i++
	}
	return -1
}

// matchClose returns the offset of the bracket closing the one at open
func matchClose(s string, open int) int {
	depth := 0
	for i := open; i < len(s); {
		if j := skipLiteral(s, i); j != i {
			i = j
			continue
		}
		switch s[i] {
		case '[', '{', '(':
			depth++
		case ']', '}', ')':
			depth--
			if depth == 0 {
				return i
			}
		}
		i++
	}
	return -1
}

func parseEntries(body string, base int) ([]Entry, error) {
	var entries []Entry
	for i := 0; i < len(body); {
		if j := skipLiteral(body, i); j != i {
			if body[i] != '/' {
				return nil, &ParseError{Offset: base + i, Err: ErrMalformedEntry}
			}
			i = j
			continue
		}
		switch c := body[i]; {
		case c == ',' || c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '{':
			end := matchClose(body, i)
			if end < 0 {
				return nil, &ParseError{Offset: base + i, Err: ErrMalformedEntry}
			}
			fields, err := parseFields(body[i+1 : end])
			if err != nil {
				return nil, &ParseError{Offset: base + i, Err: err}
			}
			entries = append(entries, Entry{Fields: fields})
			i = end + 1
		default:
			return nil, &ParseError{Offset: base + i, Err: ErrMalformedEntry}
		}
	}
	return entries, nil
}

func parseFields(inner string) ([]Field, error) {
	var fields []Field
	for _, part := range splitTopLevel(stripComments(inner), ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := splitTopLevel(part, ':')
		key := strings.TrimSpace(unquote(strings.TrimSpace(kv[0])))
		if key == "" {
			return nil, ErrMalformedEntry
		}
		if len(kv) == 1 {
			fields = append(fields, Field{Key: key})
			continue
		}
		value := strings.TrimSpace(strings.Join(kv[1:], ":"))
		if value == "" {
			return nil, ErrMalformedEntry
		}
		fields = append(fields, Field{Key: key, Value: value})
	}
	return fields, nil
}

// splitTopLevel splits s on sep wherever sep is outside brackets and literals
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); {
		if j := skipLiteral(s, i); j != i {
			i = j
			continue
		}
		switch s[i] {
		case '[', '{', '(':
			depth++
		case ']', '}', ')':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
		i++
	}
	return append(parts, s[start:])
}

func stripComments(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		j := skipLiteral(s, i)
		switch {
		case j == i:
			b.WriteByte(s[i])
			i++
		case s[i] == '/':
			i = j
		default:
			b.WriteString(s[i:j])
			i = j
		}
	}
	return b.String()
}
