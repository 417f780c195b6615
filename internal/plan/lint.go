package plan

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Finding is a statement that will not survive being run twice.
type Finding struct {
	Seq     int
	Step    string
	Rule    string
	Message string
}

func (f Finding) String() string {
	return fmt.Sprintf("%04d %s: [%s] %s", f.Seq, f.Step, f.Rule, f.Message)
}

var (
	reCreate      = regexp.MustCompile(`(?is)^CREATE\s+(?:UNIQUE\s+)?(TABLE|INDEX|EXTENSION|SCHEMA|SEQUENCE)\s+`)
	reAddColumn   = regexp.MustCompile(`(?is)\bADD\s+COLUMN\s+`)
	reIfNotExists = regexp.MustCompile(`(?is)^IF\s+NOT\s+EXISTS\b`)
	reIfExists    = regexp.MustCompile(`(?is)^IF\s+EXISTS\b`)
	reDrop        = regexp.MustCompile(`(?is)^DROP\s+(TABLE|INDEX|POLICY|EXTENSION|SCHEMA|SEQUENCE|FUNCTION|VIEW|TRIGGER)\s+`)
	reCreatePol   = regexp.MustCompile(`(?is)^CREATE\s+POLICY\s+("[^"]+"|[^\s"]+)\s+ON\s+((?:"[^"]+"|[^\s".]+)(?:\.(?:"[^"]+"|[^\s".]+))?)`)
	reDropPol     = regexp.MustCompile(`(?is)^DROP\s+POLICY\s+IF\s+EXISTS\s+("[^"]+"|[^\s"]+)\s+ON\s+((?:"[^"]+"|[^\s".]+)(?:\.(?:"[^"]+"|[^\s".]+))?)`)
	reInsert      = regexp.MustCompile(`(?is)^INSERT\s+INTO\b`)
	reOnConflict  = regexp.MustCompile(`(?is)\bON\s+CONFLICT\b`)
)

// Lint reports statements in p that are not safe to re-run.
func Lint(p *Plan) []Finding {
	var out []Finding
	dropped := map[string]bool{}

	for _, st := range p.Steps {
		add := func(rule, msg string) {
			out = append(out, Finding{Seq: st.Seq, Step: st.Name, Rule: rule, Message: msg})
		}

		stmts := SplitStatements(st.SQL)
		if len(stmts) == 0 {
			add("empty-step", "step has no statements")
			continue
		}

		for _, s := range stmts {
			if m := reCreate.FindStringSubmatchIndex(s); m != nil {
				if !reIfNotExists.MatchString(s[m[1]:]) {
					add("create-if-not-exists", fmt.Sprintf("CREATE %s without IF NOT EXISTS", strings.ToUpper(s[m[2]:m[3]])))
				}
			}
			for _, m := range reAddColumn.FindAllStringIndex(s, -1) {
				if !reIfNotExists.MatchString(s[m[1]:]) {
					add("add-column-if-not-exists", "ADD COLUMN without IF NOT EXISTS")
				}
			}
			if m := reDrop.FindStringSubmatchIndex(s); m != nil {
				if !reIfExists.MatchString(s[m[1]:]) {
					add("drop-if-exists", fmt.Sprintf("DROP %s without IF EXISTS", strings.ToUpper(s[m[2]:m[3]])))
				}
			}
			if m := reDropPol.FindStringSubmatch(s); m != nil {
				dropped[policyKey(m[1], m[2])] = true
			}
			if m := reCreatePol.FindStringSubmatch(s); m != nil {
				if !dropped[policyKey(m[1], m[2])] {
					add("policy-without-drop", fmt.Sprintf("CREATE POLICY %s ON %s has no earlier DROP POLICY IF EXISTS", m[1], m[2]))
				}
			}
			if reInsert.MatchString(s) && !reOnConflict.MatchString(s) {
				add("insert-without-on-conflict", "INSERT without ON CONFLICT")
			}
		}
	}
	return out
}

func policyKey(name, table string) string {
	norm := func(id string) string {
		if strings.HasPrefix(id, `"`) {
			return strings.Trim(id, `"`)
		}
		return strings.ToLower(id)
	}
	// unqualified tables resolve to public
	for _, prefix := range []string{"public.", `"public".`} {
		if len(table) > len(prefix) && strings.EqualFold(table[:len(prefix)], prefix) {
			table = table[len(prefix):]
			break
		}
	}
	return norm(name) + " ON " + norm(table)
}

// SplitStatements breaks a script into statements on semicolons, dropping
// "--" comments and ignoring semicolons inside quotes and $tag$ bodies.
func SplitStatements(script string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote rune
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == '$' && (i == 0 || !isIdentRune(runes[i-1])) && dollarTag(runes[i:]) != "":
			tag := []rune(dollarTag(runes[i:]))
			end := indexRunes(runes, i+len(tag), tag)
			if end < 0 {
				cur.WriteString(string(runes[i:]))
				i = len(runes)
				break
			}
			cur.WriteString(string(runes[i : end+len(tag)]))
			i = end + len(tag) - 1
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			cur.WriteRune('\n')
		case r == ';':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

// dollarTag returns the opening "$tag$" (or "$$") at the start of rs, or ""
// when rs does not open a dollar-quoted string. Positional parameters such as
// $1 are not tags.
func dollarTag(rs []rune) string {
	if len(rs) < 2 || rs[0] != '$' {
		return ""
	}
	for j := 1; j < len(rs); j++ {
		r := rs[j]
		switch {
		case r == '$':
			return string(rs[:j+1])
		case j == 1 && unicode.IsDigit(r):
			return ""
		case isIdentRune(r):
		default:
			return ""
		}
	}
	return ""
}

// indexRunes returns the index of sub in rs at or after from, or -1.
func indexRunes(rs []rune, from int, sub []rune) int {
	for i := from; i+len(sub) <= len(rs); i++ {
		if string(rs[i:i+len(sub)]) == string(sub) {
			return i
		}
	}
	return -1
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
