package cmd

import (
	"fmt"
	"strings"

	"github.com/golang-sql/civil"

	"github.com/tmc/rclindex/query"
)

// parseQueryString turns a recollq-style command line query into a
// SearchData tree: whitespace-separated bare words AND'd together,
// "quoted phrases" become PHRASE clauses, -excluded words are marked
// Exclude, and field:value pairs become RANGE/simple clauses depending
// on whether value contains "..".
func parseQueryString(s string) *query.SearchData {
	sd := query.New(query.SCLT_AND)
	sd.Autophrase = true

	for _, tok := range splitQueryTokens(s) {
		exclude := false
		if strings.HasPrefix(tok, "-") && len(tok) > 1 {
			exclude = true
			tok = tok[1:]
		}

		if strings.HasPrefix(tok, `"`) && strings.HasSuffix(tok, `"`) && len(tok) >= 2 {
			phrase := strings.Trim(tok, `"`)
			c := query.NewClause(query.SCLT_PHRASE, "", phrase)
			c.Exclude = exclude
			sd.AddClause(c)
			continue
		}

		if field, value, ok := strings.Cut(tok, ":"); ok && field != "" {
			switch field {
			case "dir", "path":
				c := query.NewClause(query.SCLT_PATH, "", value)
				c.Exclude = exclude
				sd.AddClause(c)
			case "date":
				if lo, hi, ok := parseDateRange(value); ok {
					sd.Date = query.DateRange{Min: lo, Max: hi}
				}
			default:
				if strings.Contains(value, "..") {
					c := query.NewClause(query.SCLT_RANGE, field, value)
					c.Exclude = exclude
					sd.AddClause(c)
				} else {
					c := query.NewClause(query.SCLT_AND, field, value)
					c.Exclude = exclude
					sd.AddClause(c)
				}
			}
			continue
		}

		c := query.NewClause(query.SCLT_AND, "", tok)
		c.Exclude = exclude
		sd.AddClause(c)
	}

	return sd
}

// parseDateRange parses a "lo..hi" date:value into zero-padded YYYYMMDD
// bounds, using civil.Date to reject non-calendar dates (e.g. 2021-02-30)
// before they reach the value-slot range query.
func parseDateRange(value string) (lo, hi string, ok bool) {
	loStr, hiStr, found := strings.Cut(value, "..")
	if !found {
		return "", "", false
	}
	lo, err := parseCivilDate(loStr)
	if loStr != "" && err != nil {
		return "", "", false
	}
	hi, err = parseCivilDate(hiStr)
	if hiStr != "" && err != nil {
		return "", "", false
	}
	return lo, hi, true
}

func parseCivilDate(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d%02d%02d", d.Year, d.Month, d.Day), nil
}

// splitQueryTokens splits on whitespace while keeping "quoted phrases"
// intact as one token.
func splitQueryTokens(s string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false

	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}

	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ' ' && !inQuotes:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
