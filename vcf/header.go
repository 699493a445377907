package vcf

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// FieldType is the declared value type of an INFO or FORMAT field.
type FieldType string

const (
	TypeInteger   FieldType = "Integer"
	TypeFloat     FieldType = "Float"
	TypeCharacter FieldType = "Character"
	TypeString    FieldType = "String"
	TypeFlag      FieldType = "Flag"
)

// ParseFieldType interprets the Type attribute of a field declaration.
func ParseFieldType(s string) (FieldType, error) {
	switch FieldType(s) {
	case TypeInteger, TypeFloat, TypeCharacter, TypeString, TypeFlag:
		return FieldType(s), nil
	}
	return "", fmt.Errorf("%w: invalid field type %q", ErrMalformedHeader, s)
}

// Number is the declared arity of an INFO or FORMAT field: a fixed count,
// one value per alternate allele (A), per allele including the reference (R),
// per genotype (G), or unknown (.).
type Number struct {
	form  byte
	count int
}

var (
	NumberAllele    = Number{form: 'A'}
	NumberReference = Number{form: 'R'}
	NumberGenotype  = Number{form: 'G'}
	NumberUnknown   = Number{form: '.'}
)

// NumberOf returns the Number for a fixed value count.
func NumberOf(count int) Number {
	return Number{form: 'n', count: count}
}

// ParseNumber interprets the Number attribute of a field declaration.
func ParseNumber(s string) (Number, error) {
	switch s {
	case "A":
		return NumberAllele, nil
	case "R":
		return NumberReference, nil
	case "G":
		return NumberGenotype, nil
	case ".":
		return NumberUnknown, nil
	}
	count, err := strconv.Atoi(s)
	if err != nil || count < 0 {
		return Number{}, fmt.Errorf("%w: invalid number %q", ErrMalformedHeader, s)
	}
	return NumberOf(count), nil
}

func (n Number) String() string {
	if n.form == 'n' {
		return strconv.Itoa(n.count)
	}
	return string(n.form)
}

// Fixed returns the declared count and true when the number is a fixed count.
func (n Number) Fixed() (int, bool) {
	return n.count, n.form == 'n'
}

// MetaLine is a single ## line of the header. Raw holds the line exactly as
// read and is re-emitted unchanged unless the line was modified.
type MetaLine struct {
	Category string
	Raw      string
	Value    string
	Attrs    *Attributes
	dirty    bool
}

func (m *MetaLine) String() string {
	if !m.dirty {
		return m.Raw
	}
	return fmt.Sprintf("##%s=<%s>", m.Category, m.Attrs.String())
}

type attrPair struct {
	key    string
	value  string
	quoted bool
}

// Attributes holds the key=value pairs of a structured meta line in their
// original order.
type Attributes struct {
	pairs []attrPair
	index map[string]int
}

// Get returns the value of key. Quoted values are returned without their
// quotes and with escapes resolved.
func (a *Attributes) Get(key string) (string, bool) {
	i, ok := a.index[key]
	if !ok {
		return "", false
	}
	return a.pairs[i].value, true
}

// Set replaces the value of key in place, or appends the pair when the key is
// new.
func (a *Attributes) Set(key, value string) {
	if i, ok := a.index[key]; ok {
		a.pairs[i].value = value
		if !a.pairs[i].quoted && strings.ContainsAny(value, `,=<>" `) {
			a.pairs[i].quoted = true
		}
		return
	}
	a.index[key] = len(a.pairs)
	a.pairs = append(a.pairs, attrPair{
		key:    key,
		value:  value,
		quoted: strings.ContainsAny(value, `,=<>" `),
	})
}

func (a *Attributes) Len() int {
	return len(a.pairs)
}

func (a *Attributes) String() string {
	var sb strings.Builder
	for i, p := range a.pairs {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.key)
		sb.WriteByte('=')
		if p.quoted {
			sb.WriteByte('"')
			sb.WriteString(escapeAttrValue(p.value))
			sb.WriteByte('"')
		} else {
			sb.WriteString(p.value)
		}
	}
	return sb.String()
}

func escapeAttrValue(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `"`, `\"`)
}

const (
	stateKey = iota
	stateValue
	stateQuoted
	stateQuoteEnd
	stateBracket
)

// parseAttributes splits the payload of a ##key=<...> line into its key=value
// pairs, honoring quoted values with escaped quotes and bracketed lists.
func parseAttributes(payload string) (*Attributes, error) {
	attrs := &Attributes{index: map[string]int{}}
	var word strings.Builder
	key := ""
	state := stateKey
	escaped := false

	commit := func(quoted bool) error {
		value := word.String()
		if !quoted && value == "" {
			return fmt.Errorf("%w: empty value for %q", ErrMalformedHeader, key)
		}
		if _, ok := attrs.index[key]; ok {
			return fmt.Errorf("%w: duplicate attribute %q", ErrMalformedHeader, key)
		}
		attrs.index[key] = len(attrs.pairs)
		attrs.pairs = append(attrs.pairs, attrPair{key: key, value: value, quoted: quoted})
		key = ""
		word.Reset()
		return nil
	}

	for _, letter := range payload {
		switch state {
		case stateKey:
			switch letter {
			case '=':
				if word.Len() == 0 {
					return nil, fmt.Errorf("%w: empty attribute key", ErrMalformedHeader)
				}
				key = word.String()
				word.Reset()
				state = stateValue
			case ',', '"', '<', '>':
				return nil, fmt.Errorf("%w: unexpected %q in attribute key", ErrMalformedHeader, letter)
			default:
				word.WriteRune(letter)
			}
		case stateValue:
			switch {
			case letter == '"' && word.Len() == 0:
				state = stateQuoted
			case letter == '[' && word.Len() == 0:
				word.WriteRune(letter)
				state = stateBracket
			case letter == ',':
				if err := commit(false); err != nil {
					return nil, err
				}
				state = stateKey
			default:
				word.WriteRune(letter)
			}
		case stateQuoted:
			switch {
			case escaped:
				if letter != '"' && letter != '\\' {
					word.WriteByte('\\')
				}
				word.WriteRune(letter)
				escaped = false
			case letter == '\\':
				escaped = true
			case letter == '"':
				state = stateQuoteEnd
			default:
				word.WriteRune(letter)
			}
		case stateQuoteEnd:
			if letter != ',' {
				return nil, fmt.Errorf("%w: unexpected %q after closing quote", ErrMalformedHeader, letter)
			}
			if err := commit(true); err != nil {
				return nil, err
			}
			state = stateKey
		case stateBracket:
			word.WriteRune(letter)
			if letter == ']' {
				state = stateValue
			}
		}
	}

	switch state {
	case stateKey:
		if word.Len() > 0 {
			return nil, fmt.Errorf("%w: attribute %q has no value", ErrMalformedHeader, word.String())
		}
		if len(attrs.pairs) == 0 {
			return nil, fmt.Errorf("%w: empty attribute list", ErrMalformedHeader)
		}
		return nil, fmt.Errorf("%w: trailing comma in attribute list", ErrMalformedHeader)
	case stateValue:
		if err := commit(false); err != nil {
			return nil, err
		}
	case stateQuoted:
		return nil, fmt.Errorf("%w: unbalanced quote", ErrMalformedHeader)
	case stateQuoteEnd:
		if err := commit(true); err != nil {
			return nil, err
		}
	case stateBracket:
		return nil, fmt.Errorf("%w: unbalanced bracket", ErrMalformedHeader)
	}
	return attrs, nil
}

// FieldDeclaration is the parsed view of an INFO or FORMAT meta line.
type FieldDeclaration struct {
	ID          string
	Number      Number
	Type        FieldType
	Description string

	line *MetaLine
}

// Header is the full meta section of a VCF file, up to and including the
// column header line.
type Header struct {
	Version string
	Lines   []*MetaLine
	Samples []string

	columnLine string
	hasFormat  bool
	formats    map[string]*FieldDeclaration
	infos      map[string]*FieldDeclaration
}

func newHeader() *Header {
	return &Header{
		formats: map[string]*FieldDeclaration{},
		infos:   map[string]*FieldDeclaration{},
	}
}

// FormatDeclaration returns the FORMAT declaration for id.
func (h *Header) FormatDeclaration(id string) (*FieldDeclaration, error) {
	decl, ok := h.formats[id]
	if !ok {
		return nil, fmt.Errorf("%w: FORMAT/%s", ErrUnknownField, id)
	}
	return decl, nil
}

// InfoDeclaration returns the INFO declaration for id.
func (h *Header) InfoDeclaration(id string) (*FieldDeclaration, error) {
	decl, ok := h.infos[id]
	if !ok {
		return nil, fmt.Errorf("%w: INFO/%s", ErrUnknownField, id)
	}
	return decl, nil
}

// SetFormatType rewrites the declared Type of a FORMAT field. The call is
// idempotent and leaves the meta line untouched when the type already
// matches.
func (h *Header) SetFormatType(id string, typ FieldType) error {
	decl, err := h.FormatDeclaration(id)
	if err != nil {
		return err
	}
	if decl.Type == typ {
		return nil
	}
	decl.Type = typ
	decl.line.Attrs.Set("Type", string(typ))
	decl.line.dirty = true
	return nil
}

// SampleCount returns the number of samples declared by the column header
// line.
func (h *Header) SampleCount() int {
	return len(h.Samples)
}

// addMetaLine parses one ## line and folds it into the header model.
func (h *Header) addMetaLine(line string) error {
	rest, ok := strings.CutPrefix(line, "##")
	if !ok {
		return fmt.Errorf("%w: missing ## prefix", ErrMalformedHeader)
	}
	category, value, ok := strings.Cut(rest, "=")
	if !ok {
		return fmt.Errorf("%w: missing = separator", ErrMalformedHeader)
	}
	if category == "" {
		return fmt.Errorf("%w: empty header key", ErrMalformedHeader)
	}

	meta := &MetaLine{Category: category, Raw: line}
	if strings.HasPrefix(value, "<") {
		payload, ok := strings.CutSuffix(strings.TrimPrefix(value, "<"), ">")
		if !ok {
			return fmt.Errorf("%w: unbalanced angle brackets", ErrMalformedHeader)
		}
		attrs, err := parseAttributes(payload)
		if err != nil {
			return err
		}
		meta.Attrs = attrs
	} else {
		if value == "" {
			return fmt.Errorf("%w: empty value for %q", ErrMalformedHeader, category)
		}
		meta.Value = value
	}

	switch category {
	case "fileformat":
		if meta.Attrs != nil {
			return fmt.Errorf("%w: fileformat is not a structured line", ErrMalformedHeader)
		}
		if h.Version != "" {
			return fmt.Errorf("%w: duplicate fileformat line", ErrMalformedHeader)
		}
		h.Version = meta.Value
	case "INFO":
		decl, err := newFieldDeclaration(meta)
		if err != nil {
			return err
		}
		if _, ok := h.infos[decl.ID]; ok {
			return fmt.Errorf("%w: duplicate INFO/%s", ErrMalformedHeader, decl.ID)
		}
		h.infos[decl.ID] = decl
	case "FORMAT":
		decl, err := newFieldDeclaration(meta)
		if err != nil {
			return err
		}
		if decl.Type == TypeFlag {
			return fmt.Errorf("%w: FORMAT/%s declares type Flag", ErrMalformedHeader, decl.ID)
		}
		if _, ok := h.formats[decl.ID]; ok {
			return fmt.Errorf("%w: duplicate FORMAT/%s", ErrMalformedHeader, decl.ID)
		}
		h.formats[decl.ID] = decl
	}

	h.Lines = append(h.Lines, meta)
	return nil
}

// newFieldDeclaration builds the declaration view of an INFO or FORMAT line.
// Only ID is mandatory, Number defaults to . and Type to String.
func newFieldDeclaration(meta *MetaLine) (*FieldDeclaration, error) {
	if meta.Attrs == nil {
		return nil, fmt.Errorf("%w: %s line is not structured", ErrMalformedHeader, meta.Category)
	}
	id, ok := meta.Attrs.Get("ID")
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: %s line without ID", ErrMalformedHeader, meta.Category)
	}

	decl := &FieldDeclaration{
		ID:     id,
		Number: NumberUnknown,
		Type:   TypeString,
		line:   meta,
	}
	if raw, ok := meta.Attrs.Get("Number"); ok {
		number, err := ParseNumber(raw)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", meta.Category, id, err)
		}
		decl.Number = number
	}
	if raw, ok := meta.Attrs.Get("Type"); ok {
		typ, err := ParseFieldType(raw)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", meta.Category, id, err)
		}
		decl.Type = typ
	}
	if description, ok := meta.Attrs.Get("Description"); ok {
		decl.Description = description
	}
	return decl, nil
}

var fixedColumns = []string{"#CHROM", "POS", "ID", "REF", "ALT", "QUAL", "FILTER", "INFO"}

// setColumnLine validates the #CHROM line and extracts the sample names.
func (h *Header) setColumnLine(line string) error {
	columns := strings.Split(line, "\t")
	if len(columns) < len(fixedColumns) {
		return fmt.Errorf("%w: column header has %d columns, expected at least %d",
			ErrMalformedHeader, len(columns), len(fixedColumns))
	}
	for i, name := range fixedColumns {
		if columns[i] != name {
			return fmt.Errorf("%w: column %d is %q, expected %q", ErrMalformedHeader, i+1, columns[i], name)
		}
	}
	if len(columns) > len(fixedColumns) {
		if columns[8] != "FORMAT" {
			return fmt.Errorf("%w: column 9 is %q, expected FORMAT", ErrMalformedHeader, columns[8])
		}
		h.hasFormat = true
		seen := map[string]bool{}
		for _, sample := range columns[9:] {
			if sample == "" {
				return fmt.Errorf("%w: empty sample name", ErrMalformedHeader)
			}
			if seen[sample] {
				return fmt.Errorf("%w: duplicate sample name %q", ErrMalformedHeader, sample)
			}
			seen[sample] = true
		}
		h.Samples = columns[9:]
	}
	h.columnLine = line
	return nil
}

// Serialize writes the header back out, meta lines first in their original
// order and the column header line last. Lines that were never modified are
// reproduced byte for byte.
func (h *Header) Serialize(w io.Writer) error {
	if h.columnLine == "" {
		return fmt.Errorf("%w: missing column header line", ErrMalformedHeader)
	}
	for _, meta := range h.Lines {
		if _, err := io.WriteString(w, meta.String()+"\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, h.columnLine+"\n")
	return err
}
