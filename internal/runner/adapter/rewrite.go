package adapter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bytedance/gg/gslice"
)

const (
	portHelper = "_launchpad_free_port"
	loopback   = "127.0.0.1"
)

// portPrelude is injected into rewritten files. It binds throwaway sockets
// upward from start until one succeeds.
const portPrelude = `import socket as _launchpad_socket


def ` + portHelper + `(start, attempts=200):
    for port in range(start, start + attempts):
        probe = _launchpad_socket.socket(_launchpad_socket.AF_INET, _launchpad_socket.SOCK_STREAM)
        try:
            probe.bind(("` + loopback + `", port))
            return port
        except OSError:
            continue
        finally:
            probe.close()
    raise RuntimeError("no free port in [%d, %d)" % (start, start + attempts))


`

type framework struct {
	name    string
	imports *regexp.Regexp
	// reloadKwarg is the keyword that turns auto-reload off.
	reloadKwarg string
	// keepPositional is how many leading positional arguments survive a rewrite.
	keepPositional int
	setsDebug      bool
}

var (
	flask = framework{
		name:        "flask",
		imports:     importPattern("flask"),
		reloadKwarg: "use_reloader",
		setsDebug:   true,
	}
	uvicorn = framework{
		name:           "uvicorn",
		imports:        importPattern("uvicorn"),
		reloadKwarg:    "reload",
		keepPositional: 1,
	}
	frameworks = []framework{flask, uvicorn}
)

var (
	flaskAppPattern   = regexp.MustCompile(`(?m)^\s*([A-Za-z_]\w*)\s*=\s*(?:flask\s*\.\s*)?Flask\s*\(`)
	uvicornRunPattern = regexp.MustCompile(`\buvicorn\s*\.\s*run\s*\(`)
	kwargPattern      = regexp.MustCompile(`^([A-Za-z_]\w*)\s*=([^=]|$)`)
	intLiteral        = regexp.MustCompile(`^\d+$`)
	futureImport      = regexp.MustCompile(`^from\s+__future__\s+import\b`)
	fromImportPattern = regexp.MustCompile(`(?m)^[ \t]*from[ \t]+[\w.]+[ \t]+import[ \t]*(\([^)]*\)|[^#\n]*)`)
	codingComment     = regexp.MustCompile(`^#.*coding[:=]`)
)

func (fw framework) looksLikeServer(src string) bool {
	switch fw.name {
	case "flask":
		return len(FlaskAppVars(src)) > 0
	case "uvicorn":
		return uvicornRunPattern.MatchString(src)
	}
	return false
}

func (fw framework) startupArgs(baseline int) []string {
	out := []string{
		fmt.Sprintf("host=%q", loopback),
		fmt.Sprintf("port=%s(%d)", portHelper, baseline),
	}
	if fw.setsDebug {
		out = append(out, "debug=False")
	}
	return append(out, fw.reloadKwarg+"=False")
}

// FlaskAppVars returns the names bound to Flask(...) in src.
func FlaskAppVars(src string) []string {
	names := gslice.Map(flaskAppPattern.FindAllStringSubmatch(src, -1), func(m []string) string { return m[1] })
	return gslice.Uniq(names)
}

// ImportedName returns the local name under which src imports one of names
// through a from-import, or "" when it imports none of them.
func ImportedName(src string, names []string) string {
	for _, m := range fromImportPattern.FindAllStringSubmatch(src, -1) {
		list := strings.Trim(strings.TrimSpace(m[1]), "()")
		for _, item := range strings.Split(list, ",") {
			fields := strings.Fields(item)
			if len(fields) == 0 || !gslice.Contains(names, fields[0]) {
				continue
			}
			if len(fields) == 3 && fields[1] == "as" {
				return fields[2]
			}
			return fields[0]
		}
	}
	return ""
}

func flaskRunPattern(appVars []string) *regexp.Regexp {
	quoted := make([]string, len(appVars))
	for i, v := range appVars {
		quoted[i] = regexp.QuoteMeta(v)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\s*\.\s*run\s*\(`)
}

// HasFlaskRun reports whether src calls run on any of appVars.
func HasFlaskRun(src string, appVars []string) bool {
	if len(appVars) == 0 {
		return false
	}
	code := codeMask(src)
	for _, loc := range flaskRunPattern(appVars).FindAllStringIndex(src, -1) {
		if code[loc[0]] {
			return true
		}
	}
	return false
}

// RewriteFlask rewrites every appVar.run(...) call in src and adds the port
// prelude when anything changed.
func RewriteFlask(src string, appVars []string, baseline int) (string, bool, error) {
	if len(appVars) == 0 {
		return src, false, nil
	}
	return rewriteFile(src, flaskRunPattern(appVars), flask, baseline)
}

// RewriteUvicorn rewrites every uvicorn.run(...) call in src.
func RewriteUvicorn(src string, baseline int) (string, bool, error) {
	return rewriteFile(src, uvicornRunPattern, uvicorn, baseline)
}

// InjectFlaskRun appends a guarded startup call for appVar.
func InjectFlaskRun(src, appVar string, baseline int) string {
	if !strings.HasSuffix(src, "\n") {
		src += "\n"
	}
	src += fmt.Sprintf("\n\nif __name__ == \"__main__\":\n    %s.run(%s)\n",
		appVar, strings.Join(flask.startupArgs(baseline), ", "))
	return EnsurePrelude(src)
}

func rewriteFile(src string, call *regexp.Regexp, fw framework, baseline int) (string, bool, error) {
	out, n, err := rewriteCalls(src, call, fw, baseline)
	if n == 0 {
		return src, false, err
	}
	return EnsurePrelude(out), true, err
}

func rewriteCalls(src string, call *regexp.Regexp, fw framework, baseline int) (string, int, error) {
	var (
		b    strings.Builder
		last int
		n    int
		errs []error
		code = codeMask(src)
	)
	for _, loc := range call.FindAllStringIndex(src, -1) {
		open := loc[1] - 1
		if loc[0] < last || !code[loc[0]] {
			continue
		}
		end, ok := matchParen(src, open)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: unbalanced call at offset %d", fw.name, loc[0]))
			continue
		}
		args := splitArgs(src[open+1 : end])
		if alreadyAdapted(args, fw) {
			continue
		}
		b.WriteString(src[last : open+1])
		b.WriteString(strings.Join(fw.rewriteArgs(args, baseline), ", "))
		last = end
		n++
	}
	b.WriteString(src[last:])
	return b.String(), n, errors.Join(errs...)
}

func (fw framework) rewriteArgs(args []string, baseline int) []string {
	drop := map[string]bool{"host": true, "port": true, fw.reloadKwarg: true}
	if fw.setsDebug {
		drop["debug"] = true
	}

	var positional, keyword []string
	for _, a := range args {
		if strings.HasPrefix(a, "**") {
			keyword = append(keyword, a)
			continue
		}
		if m := kwargPattern.FindStringSubmatch(a); m != nil {
			if !drop[m[1]] {
				keyword = append(keyword, a)
			}
			continue
		}
		if len(positional) < fw.keepPositional {
			positional = append(positional, a)
		}
	}
	out := append(positional, keyword...)
	return append(out, fw.startupArgs(baseline)...)
}

// alreadyAdapted treats a call as safe when it already uses the helper, or
// binds loopback on a non-literal port with reload off.
func alreadyAdapted(args []string, fw framework) bool {
	kw := map[string]string{}
	for _, a := range args {
		if strings.Contains(a, portHelper+"(") {
			return true
		}
		if m := kwargPattern.FindStringSubmatch(a); m != nil {
			kw[m[1]] = strings.TrimSpace(a[strings.Index(a, "=")+1:])
		}
	}

	host := strings.Trim(kw["host"], `"'`)
	if host != loopback && host != "localhost" {
		return false
	}
	port, ok := kw["port"]
	if !ok || intLiteral.MatchString(port) {
		return false
	}
	if kw[fw.reloadKwarg] != "False" {
		return false
	}
	return !fw.setsDebug || kw["debug"] != "True"
}

// EnsurePrelude inserts the port helper once, after any shebang, encoding
// line, or __future__ imports.
func EnsurePrelude(src string) string {
	if strings.Contains(src, "def "+portHelper+"(") {
		return src
	}
	lines := strings.SplitAfter(src, "\n")
	at := 0
	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		switch {
		case i < 2 && (strings.HasPrefix(trimmed, "#!") || codingComment.MatchString(trimmed)):
			at = i + 1
		case futureImport.MatchString(trimmed):
			// A parenthesized import list ends on the line closing it.
			if strings.Contains(trimmed, "(") {
				for i < len(lines)-1 && !strings.Contains(lines[i], ")") {
					i++
				}
			}
			at = i + 1
		}
	}
	head := strings.Join(lines[:at], "")
	if head != "" && !strings.HasSuffix(head, "\n") {
		head += "\n"
	}
	return head + portPrelude + strings.Join(lines[at:], "")
}

// codeMask marks the bytes of src that sit outside comments and string
// literals.
func codeMask(src string) []bool {
	mask := make([]bool, len(src))
	scan(src, 0, func(i int, _ byte) bool {
		mask[i] = true
		return true
	})
	return mask
}

// scan walks src from start, calling visit for every byte outside string
// literals and comments. visit returns false to stop; scan returns the
// stopping index or -1.
func scan(src string, start int, visit func(i int, c byte) bool) int {
	for i := start; i < len(src); i++ {
		c := src[i]
		switch c {
		case '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			continue
		case '\'', '"':
			quote := string(c)
			if strings.HasPrefix(src[i:], strings.Repeat(quote, 3)) {
				quote = strings.Repeat(quote, 3)
			}
			i += len(quote)
			for i < len(src) && !strings.HasPrefix(src[i:], quote) {
				if src[i] == '\\' {
					i++
				}
				i++
			}
			i += len(quote) - 1
			continue
		}
		if !visit(i, c) {
			return i
		}
	}
	return -1
}

func matchParen(src string, open int) (int, bool) {
	depth := 0
	end := scan(src, open, func(_ int, c byte) bool {
		switch c {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		}
		return depth != 0
	})
	return end, end >= 0
}

func splitArgs(s string) []string {
	var (
		out   []string
		depth int
		from  int
	)
	scan(s, 0, func(i int, c byte) bool {
		switch c {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[from:i])
				from = i + 1
			}
		}
		return true
	})
	out = append(out, s[from:])

	args := out[:0]
	for _, a := range out {
		if a = strings.TrimSpace(a); a != "" {
			args = append(args, a)
		}
	}
	return args
}
