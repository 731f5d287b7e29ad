// Package query implements the SearchData tree of spec §4.7: the
// structured, serializable representation of a user query before it is
// compiled by query/translate into a posting-store expression.
//
// encoding/xml is the deliberate choice for serialization here (not a
// third-party XML library): the <SD>/<CL>/... shape is a stable external
// interface per spec §6, a genuinely external fixed-shape wire format
// rather than an internal data structure.
package query

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"
)

// ClauseKind enumerates spec §4.7's clause kinds.
type ClauseKind int

const (
	SCLT_AND ClauseKind = iota
	SCLT_OR
	SCLT_FILENAME
	SCLT_PATH
	SCLT_NEAR
	SCLT_PHRASE
	SCLT_SUB
	SCLT_RANGE
)

func (k ClauseKind) String() string {
	switch k {
	case SCLT_AND:
		return "AND"
	case SCLT_OR:
		return "OR"
	case SCLT_FILENAME:
		return "FILENAME"
	case SCLT_PATH:
		return "PATH"
	case SCLT_NEAR:
		return "NEAR"
	case SCLT_PHRASE:
		return "PHRASE"
	case SCLT_SUB:
		return "SUB"
	case SCLT_RANGE:
		return "RANGE"
	default:
		return "UNKNOWN"
	}
}

func parseClauseKind(s string) (ClauseKind, error) {
	switch s {
	case "AND":
		return SCLT_AND, nil
	case "OR":
		return SCLT_OR, nil
	case "FILENAME":
		return SCLT_FILENAME, nil
	case "PATH":
		return SCLT_PATH, nil
	case "NEAR":
		return SCLT_NEAR, nil
	case "PHRASE":
		return SCLT_PHRASE, nil
	case "SUB":
		return SCLT_SUB, nil
	case "RANGE":
		return SCLT_RANGE, nil
	default:
		return 0, fmt.Errorf("query: unknown clause kind %q", s)
	}
}

// Modifier is a bitmask of clause modifiers (spec §4.7 "Clause
// attributes").
type Modifier uint32

const (
	ModAnchorStart Modifier = 1 << iota
	ModAnchorEnd
	ModCaseSensitive
	ModDiacSensitive
	ModNoStemming
	ModNoSynonyms
	ModNoTermHighlight
	ModExpandInsidePhrase
	ModPathElement
	ModFilterOnly
)

// Rel is the relation for simple clauses that are actually equality or
// an inequality comparison on a field (spec §4.7 "rel").
type Rel int

const (
	RelNone Rel = iota
	RelEQ
	RelLT
	RelLE
	RelGT
	RelGE
)

// Clause is one leaf of a SearchData tree.
type Clause struct {
	Kind      ClauseKind
	Field     string
	Text      string
	Exclude   bool
	Modifiers Modifier
	Weight    float64
	Slack     int
	Rel       Rel

	Sub *SearchData // for SCLT_SUB

	reason string
}

// Reason returns a human-readable note on how this clause translated.
// It is set unconditionally as the translator processes every clause,
// not just on the error path spec §4.7 mentions.
func (c *Clause) Reason() string { return c.reason }

// SetReason is called by the translator as it processes a clause.
func (c *Clause) SetReason(r string) { c.reason = r }

func NewClause(kind ClauseKind, field, text string) *Clause {
	return &Clause{Kind: kind, Field: field, Text: text, Weight: 1}
}

// MimeFilter is an included/excluded MIME type list, which may contain
// wildcards or configured category names (spec §4.7).
type MimeFilter struct {
	Include []string
	Exclude []string
}

// SubDocSpec selects which documents in a container are eligible (spec
// §4.7 "Sub-document spec").
type SubDocSpec int

const (
	SubDocAny SubDocSpec = iota
	SubDocTopOnly
	SubDocSubOnly
)

// DateRange is an inclusive [Min, Max] range in YYYYMMDD form; an empty
// string means unbounded on that side.
type DateRange struct {
	Min, Max string
}

// SizeRange is an inclusive [Min, Max] byte range; 0 on either side
// means unbounded.
type SizeRange struct {
	Min, Max int64
}

// SearchData is the root of a query tree: a composite of AND/OR clauses
// plus the auxiliary top-level filters of spec §4.7.
type SearchData struct {
	Op      ClauseKind // SCLT_AND or SCLT_OR at the top
	Clauses []*Clause

	Date      DateRange
	BirthDate DateRange
	Size      SizeRange
	Types     MimeFilter
	SubDocs   SubDocSpec

	// Autophrase, when true, asks the translator to build a phrase from
	// the user's bare-word terms and AND_MAYBE it in for ranking boost
	// (spec §4.7 "autophrase child", §4.8 step 9).
	Autophrase bool

	// ExternalIndexes is an opaque, base64-carried list of extra index
	// paths to search against (spec §4.7 serialization "<EX>").
	ExternalIndexes []string
}

func New(op ClauseKind) *SearchData {
	return &SearchData{Op: op}
}

func (sd *SearchData) AddClause(c *Clause) *SearchData {
	sd.Clauses = append(sd.Clauses, c)
	return sd
}

// --- XML serialization (spec §4.7 "Serialization") ---

type xmlClause struct {
	Kind      string  `xml:"kind,attr"`
	Field     string  `xml:"field,attr,omitempty"`
	Text      string  `xml:",chardata"`
	Exclude   bool    `xml:"exclude,attr,omitempty"`
	Modifiers uint32  `xml:"modifiers,attr,omitempty"`
	Weight    float64 `xml:"weight,attr"`
	Slack     int     `xml:"slack,attr,omitempty"`
	Rel       int     `xml:"rel,attr,omitempty"`
	Sub       *xmlSD  `xml:"SD,omitempty"`
}

type xmlSD struct {
	XMLName xml.Name    `xml:"SD"`
	Op      string      `xml:"op,attr"`
	CL      []xmlClause `xml:"CL"`

	DMI string `xml:"DMI,omitempty"`
	DMA string `xml:"DMA,omitempty"`
	BMI string `xml:"BMI,omitempty"`
	BMA string `xml:"BMA,omitempty"`
	MIS int64  `xml:"MIS,omitempty"`
	MAS int64  `xml:"MAS,omitempty"`

	ST []string `xml:"ST,omitempty"`
	IT []string `xml:"IT,omitempty"`

	EX string `xml:"EX,omitempty"`

	Autophrase bool `xml:"autophrase,attr,omitempty"`
	SubDocs    int  `xml:"subdocs,attr,omitempty"`
}

func toXMLClause(c *Clause) xmlClause {
	xc := xmlClause{
		Kind:      c.Kind.String(),
		Field:     c.Field,
		Text:      c.Text,
		Exclude:   c.Exclude,
		Modifiers: uint32(c.Modifiers),
		Weight:    c.Weight,
		Slack:     c.Slack,
		Rel:       int(c.Rel),
	}
	if c.Sub != nil {
		sub := toXMLSD(c.Sub)
		xc.Sub = &sub
	}
	return xc
}

func fromXMLClause(xc xmlClause) (*Clause, error) {
	kind, err := parseClauseKind(xc.Kind)
	if err != nil {
		return nil, err
	}
	c := &Clause{
		Kind:      kind,
		Field:     xc.Field,
		Text:      xc.Text,
		Exclude:   xc.Exclude,
		Modifiers: Modifier(xc.Modifiers),
		Weight:    xc.Weight,
		Slack:     xc.Slack,
		Rel:       Rel(xc.Rel),
	}
	if xc.Sub != nil {
		sub, err := fromXMLSD(*xc.Sub)
		if err != nil {
			return nil, err
		}
		c.Sub = sub
		// a SUB element's chardata is only the indentation around its
		// nested SearchData
		c.Text = strings.TrimSpace(xc.Text)
	}
	return c, nil
}

func toXMLSD(sd *SearchData) xmlSD {
	x := xmlSD{
		Op:         sd.Op.String(),
		DMI:        sd.Date.Min,
		DMA:        sd.Date.Max,
		BMI:        sd.BirthDate.Min,
		BMA:        sd.BirthDate.Max,
		MIS:        sd.Size.Min,
		MAS:        sd.Size.Max,
		ST:         sd.Types.Include,
		IT:         sd.Types.Exclude,
		Autophrase: sd.Autophrase,
		SubDocs:    int(sd.SubDocs),
	}
	if len(sd.ExternalIndexes) > 0 {
		x.EX = base64.StdEncoding.EncodeToString([]byte(joinNonEmpty(sd.ExternalIndexes)))
	}
	for _, c := range sd.Clauses {
		x.CL = append(x.CL, toXMLClause(c))
	}
	return x
}

func fromXMLSD(x xmlSD) (*SearchData, error) {
	op, err := parseClauseKind(x.Op)
	if err != nil {
		return nil, err
	}
	sd := &SearchData{
		Op:         op,
		Date:       DateRange{Min: x.DMI, Max: x.DMA},
		BirthDate:  DateRange{Min: x.BMI, Max: x.BMA},
		Size:       SizeRange{Min: x.MIS, Max: x.MAS},
		Types:      MimeFilter{Include: x.ST, Exclude: x.IT},
		Autophrase: x.Autophrase,
		SubDocs:    SubDocSpec(x.SubDocs),
	}
	if x.EX != "" {
		raw, err := base64.StdEncoding.DecodeString(x.EX)
		if err != nil {
			return nil, fmt.Errorf("query: decoding EX: %w", err)
		}
		sd.ExternalIndexes = splitNonEmpty(string(raw))
	}
	for _, xc := range x.CL {
		c, err := fromXMLClause(xc)
		if err != nil {
			return nil, err
		}
		sd.Clauses = append(sd.Clauses, c)
	}
	return sd, nil
}

func joinNonEmpty(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += "\x1f"
		}
		out += s
	}
	return out
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\x1f' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// ToXML serializes sd into the <SD> document of spec §4.7.
func ToXML(sd *SearchData) ([]byte, error) {
	return xml.MarshalIndent(toXMLSD(sd), "", "  ")
}

// FromXML parses an <SD> document back into a SearchData tree.
func FromXML(data []byte) (*SearchData, error) {
	var x xmlSD
	if err := xml.Unmarshal(data, &x); err != nil {
		return nil, fmt.Errorf("query: parsing SD XML: %w", err)
	}
	return fromXMLSD(x)
}
