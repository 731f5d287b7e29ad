// Package doc implements the document model of spec §3: unique document
// identifiers, signatures, data records and field traits. Nothing here
// touches a store or a splitter; it is the plain-data layer the indexer
// and query engine both build on top of.
package doc

import (
	"fmt"
	"strconv"
	"strings"
)

// UDI is the application-supplied unique document identifier: for
// filesystem documents, path plus internal path (ipath) for items inside
// archives or compound files.
type UDI string

// WrapPrefix renders the index-wide prefix wrapping chosen at index
// creation (spec §3 "Prefix wrapping is index-wide"). Only the single
// ASCII-uppercase-run form is implemented; the colon-delimited form is a
// store-creation-time choice this module does not need to make today.
func WrapPrefix(prefix string, term string) string {
	return prefix + term
}

// Uniterm returns the store term that is this UDI's primary key: the "Q"
// prefix wrapped around the UDI (spec §3).
func (u UDI) Uniterm() string {
	return WrapPrefix("Q", string(u))
}

// ParentTerm returns the boolean term recorded on a sub-document so the
// children of this UDI can be enumerated by its posting list (spec §3
// "parent UDI").
func (u UDI) ParentTerm() string {
	return WrapPrefix("F", string(u))
}

// Signature is an opaque up-to-date check value, conventionally derived
// from mtime+size. A trailing '+' marks "last indexing of this doc
// failed" (spec §3, §7).
type Signature string

// Failed reports whether this signature carries the "last indexing
// failed" marker.
func (s Signature) Failed() bool {
	return strings.HasSuffix(string(s), "+")
}

// MarkFailed returns the signature with the failed-marker appended, or
// itself if already marked.
func (s Signature) MarkFailed() Signature {
	if s.Failed() {
		return s
	}
	return s + "+"
}

// Base strips a trailing failed-marker, for comparing a stored VALUE_SIG
// against a freshly computed signature (spec §3 invariant: "equals sig
// modulo an optional trailing +").
func (s Signature) Base() Signature {
	return Signature(strings.TrimSuffix(string(s), "+"))
}

// Matches reports whether s and other denote the same underlying content
// signature, ignoring the failed-marker on either side.
func (s Signature) Matches(other Signature) bool {
	return s.Base() == other.Base()
}

// FieldTraits describes how one metadata field is indexed (spec §3
// "Field").
type FieldTraits struct {
	// Pfx is the term prefix for this field; empty means the field is
	// indexed only with unprefixed terms.
	Pfx string
	// Wdfinc is the weight increment added to each term occurrence from
	// this field.
	Wdfinc int
	// ValueSlot, when non-zero, is the numeric value slot this field's
	// raw value is additionally stored under, enabling range queries.
	ValueSlot int
	// PfxOnly suppresses the unprefixed posting that would otherwise
	// accompany the prefixed one.
	PfxOnly bool
	// NoTerms excludes this field's terms from highlight-data
	// contribution (it is indexed, but not considered for snippets).
	NoTerms bool
	// Stored marks that this field's raw value is copied into the data
	// record verbatim (spec §4.4 step 6, "every configured stored
	// metadata field").
	Stored bool
}

// Stable term prefixes (spec §6 "Term prefixes (stable)").
const (
	PrefixMimetype   = "T"
	PrefixExtension  = "XE"
	PrefixPathElem   = "XP"
	PrefixUniterm    = "Q"
	PrefixParent     = "F"
	PrefixMD5        = "XM"
	PrefixPageBreak  = "XXPG/"
	PrefixFieldStart = "XXST/"
	PrefixFieldEnd   = "XXND/"
	PrefixHasChild   = "XXC/"
	PrefixDateYear   = "D3"
	PrefixDateMonth  = "D2"
	PrefixDateDay    = "D1"
)

// Stable value slots (spec §6 "Value slots (stable)").
const (
	SlotSig       = 1
	SlotSize      = 2
	SlotMD5       = 3
	SlotDate      = 4
	SlotBirthDate = 5
)

// ZeroPadSize renders a byte size as the 12-digit zero-padded decimal
// string VALUE_SIZE expects, so lexicographic compare matches numeric
// compare (spec §4.4 step 5).
func ZeroPadSize(n int64) string {
	return fmt.Sprintf("%012d", n)
}

// ZeroPadFmtime renders fmtime zero-padded to 11 digits (spec §4.4 step
// 6). fmtime is a unix timestamp; 11 digits comfortably covers dates well
// past the year 2262.
func ZeroPadFmtime(unixSeconds int64) string {
	return fmt.Sprintf("%011d", unixSeconds)
}

// DataRecord is the per-document data record of spec §6: UTF-8,
// `key=value` lines, no escaping of '=' in keys.
type DataRecord struct {
	URL         string
	Mimetype    string
	Fmtime      string // zero-padded, see ZeroPadFmtime
	Dmtime      string
	OrigCharset string
	Caption     string
	Abstract    string // may carry a synthetic-marker prefix, see AbstractSynthetic
	IPath       string
	FBytes      string
	DBytes      string
	PCBytes     string
	Sig         string
	Filename    string
	MBreaks     string // rclmbreaks sidechannel, see EncodeMBreaks
	Extra       map[string]string
}

// AbstractSyntheticMarker prefixes a synthesized (as opposed to authored)
// abstract: one of the recognized "?!#@" markers (spec §6).
const AbstractSyntheticMarker = "?"

// sanitizeValue neutralizes control characters that would otherwise
// break the line-based, unescaped key=value format (spec §9 open
// question: "pre-sanitized by replacing \n\r\f\\ with spaces").
func sanitizeValue(v string) string {
	r := strings.NewReplacer("\n", " ", "\r", " ", "\f", " ", "\\", " ")
	return r.Replace(v)
}

// Encode renders the record in the key=value line format of spec §6.
func (d DataRecord) Encode() string {
	var b strings.Builder
	emit := func(key, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%s=%s\n", key, sanitizeValue(value))
	}
	emit("url", d.URL)
	emit("mtype", d.Mimetype)
	emit("fmtime", d.Fmtime)
	emit("dmtime", d.Dmtime)
	emit("origcharset", d.OrigCharset)
	emit("caption", d.Caption)
	emit("abstract", d.Abstract)
	emit("ipath", d.IPath)
	emit("fbytes", d.FBytes)
	emit("dbytes", d.DBytes)
	emit("pcbytes", d.PCBytes)
	emit("sig", d.Sig)
	emit("filename", d.Filename)
	emit("rclmbreaks", d.MBreaks)
	for k, v := range d.Extra {
		emit(k, v)
	}
	return b.String()
}

// ParseDataRecord parses the key=value line format back into a
// DataRecord. Unknown keys are kept in Extra so that configured stored
// fields round-trip even though this package doesn't know their names.
func ParseDataRecord(s string) DataRecord {
	d := DataRecord{Extra: map[string]string{}}
	for _, line := range strings.Split(s, "\n") {
		if line == "" {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		key, value := line[:eq], line[eq+1:]
		switch key {
		case "url":
			d.URL = value
		case "mtype":
			d.Mimetype = value
		case "fmtime":
			d.Fmtime = value
		case "dmtime":
			d.Dmtime = value
		case "origcharset":
			d.OrigCharset = value
		case "caption":
			d.Caption = value
		case "abstract":
			d.Abstract = value
		case "ipath":
			d.IPath = value
		case "fbytes":
			d.FBytes = value
		case "dbytes":
			d.DBytes = value
		case "pcbytes":
			d.PCBytes = value
		case "sig":
			d.Sig = value
		case "filename":
			d.Filename = value
		case "rclmbreaks":
			d.MBreaks = value
		default:
			d.Extra[key] = value
		}
	}
	return d
}

// MBreak is one (relative position, extra empty-page count) pair of the
// rclmbreaks sidechannel (spec §9 open question: the store can't express
// duplicate positions, so runs of empty pages are recorded here instead).
type MBreak struct {
	RelPos uint32
	Extra  int
}

// EncodeMBreaks renders the sidechannel as "relpos,extra,relpos,extra,...".
func EncodeMBreaks(breaks []MBreak) string {
	parts := make([]string, 0, len(breaks)*2)
	for _, mb := range breaks {
		parts = append(parts, strconv.FormatUint(uint64(mb.RelPos), 10), strconv.Itoa(mb.Extra))
	}
	return strings.Join(parts, ",")
}

// DecodeMBreaks parses the rclmbreaks sidechannel back into pairs.
// Malformed input (odd element count, non-numeric field) yields a
// truncated result rather than an error: this is best-effort recovery of
// stored data, not a new write.
func DecodeMBreaks(s string) []MBreak {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	var out []MBreak
	for i := 0; i+1 < len(parts); i += 2 {
		pos, err1 := strconv.ParseUint(parts[i], 10, 32)
		extra, err2 := strconv.Atoi(parts[i+1])
		if err1 != nil || err2 != nil {
			break
		}
		out = append(out, MBreak{RelPos: uint32(pos), Extra: extra})
	}
	return out
}

// DateTerms derives the year / year-month / year-month-day boolean terms
// for a date, each under its own stable prefix (spec §4.4 step 4). year,
// month, day are as in time.Date (month 1-12, day 1-31).
func DateTerms(year, month, day int) []string {
	return []string{
		fmt.Sprintf("%s%04d", PrefixDateYear, year),
		fmt.Sprintf("%s%04d%02d", PrefixDateMonth, year, month),
		fmt.Sprintf("%s%04d%02d%02d", PrefixDateDay, year, month, day),
	}
}

// DateValue renders year/month/day as the zero-padded YYYYMMDD string
// stored in SlotDate/SlotBirthDate, lexicographically comparable the same
// way ZeroPadSize's digits are (spec §4.8 step 6, "date fields formatted
// as YYYYMMDD").
func DateValue(year, month, day int) string {
	return fmt.Sprintf("%04d%02d%02d", year, month, day)
}

// PathElementTerms derives the ordered XP-prefixed path-element terms for
// every non-empty "/"-separated component of a path, the last one
// included (spec §4.4 step 3).
func PathElementTerms(urlPath string) []string {
	parts := strings.Split(strings.Trim(urlPath, "/"), "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, PrefixPathElem+p)
	}
	return out
}
