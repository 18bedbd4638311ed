package dockerfile

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Problem is one linter finding.
type Problem struct {
	Code     string `json:"code"`
	Severity string `json:"severity"` // error or warning
	Line     int    `json:"line"`
	Message  string `json:"message"`
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Finding codes.
const (
	CodePortMismatch = "port-mismatch"
	CodeFloatingTag  = "floating-base-tag"
	CodeUnpinnedBase = "unpinned-base"
	CodeLoopback     = "loopback-host"
	CodeEntryObject  = "entry-object"
	CodeCacheOrder   = "cache-order"
	CodeNoExpose     = "no-expose"
	CodeNoCmd        = "no-cmd"
)

type instruction struct {
	name string
	args string
	line int
}

var envDefaultRe = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(\d+))?\}$`)

// Lint checks a Dockerfile for the defect classes the build contract rules
// out by construction: diverging port declarations, floating base tags,
// loopback binding, a startup target that is not <module>:app, and a copy
// order that busts the dependency layer cache.
func Lint(src string) []Problem {
	instrs := scan(src)
	var problems []Problem

	var exposeLine, exposePort int
	var cmdLine int
	var cmdTokens []string
	env := map[string]string{}
	pipLine := 0
	var copyBeforePip []instruction

	for _, in := range instrs {
		switch in.name {
		case "FROM":
			problems = append(problems, lintFrom(in)...)
		case "ENV":
			k, v, ok := parseEnv(in.args)
			if ok {
				env[k] = v
			}
		case "EXPOSE":
			exposeLine = in.line
			exposePort = parseExposePort(in.args)
		case "CMD", "ENTRYPOINT":
			cmdLine = in.line
			cmdTokens = parseCommand(in.args)
		case "RUN":
			if pipLine == 0 && strings.Contains(in.args, "pip install") {
				pipLine = in.line
			}
		case "COPY", "ADD":
			if pipLine == 0 {
				copyBeforePip = append(copyBeforePip, in)
			}
		}
	}

	if exposeLine == 0 {
		problems = append(problems, Problem{Code: CodeNoExpose, Severity: SeverityWarning, Line: 0,
			Message: "no EXPOSE directive: the listening port is undeclared"})
	}
	if cmdLine == 0 {
		problems = append(problems, Problem{Code: CodeNoCmd, Severity: SeverityError, Line: 0,
			Message: "no CMD or ENTRYPOINT: the image has no default startup command"})
		return problems
	}

	cmdPort, portKnown := commandPort(cmdTokens, env)
	if exposePort != 0 && portKnown && cmdPort != exposePort {
		problems = append(problems, Problem{Code: CodePortMismatch, Severity: SeverityError, Line: cmdLine,
			Message: fmt.Sprintf("startup command binds port %d but EXPOSE declares %d; derive both from one value", cmdPort, exposePort)})
	}

	if host, ok := flagValue(cmdTokens, "--host"); ok && host != "0.0.0.0" {
		problems = append(problems, Problem{Code: CodeLoopback, Severity: SeverityError, Line: cmdLine,
			Message: fmt.Sprintf("server binds %s; bind 0.0.0.0 so platform routing can reach it", host)})
	}

	if target, ok := uvicornTarget(cmdTokens); ok {
		if i := strings.IndexByte(target, ':'); i < 0 || target[i+1:] != "app" {
			problems = append(problems, Problem{Code: CodeEntryObject, Severity: SeverityError, Line: cmdLine,
				Message: fmt.Sprintf("startup target %q must resolve a module-level object named app", target)})
		}
	}

	if pipLine > 0 {
		for _, c := range copyBeforePip {
			if copiesBeyondManifest(c.args) {
				problems = append(problems, Problem{Code: CodeCacheOrder, Severity: SeverityWarning, Line: c.line,
					Message: "source files copied before dependency install; code-only changes will invalidate the dependency layer"})
				break
			}
		}
	}

	return problems
}

func lintFrom(in instruction) []Problem {
	ref := strings.Fields(in.args)
	if len(ref) == 0 {
		return nil
	}
	image := ref[0]
	if strings.Contains(image, "@sha256:") {
		return nil // content-addressed, immutable
	}
	tag := ""
	if i := strings.LastIndexByte(image, ':'); i > strings.LastIndexByte(image, '/') {
		tag = image[i+1:]
	}
	if tag == "" || tag == "latest" {
		return []Problem{{Code: CodeFloatingTag, Severity: SeverityError, Line: in.line,
			Message: fmt.Sprintf("base image %q floats; successive builds can silently change behavior", image)}}
	}
	return []Problem{{Code: CodeUnpinnedBase, Severity: SeverityWarning, Line: in.line,
		Message: fmt.Sprintf("base image %q is pinned to a mutable tag; prefer a digest", image)}}
}

// scan folds line continuations and strips comments, yielding one
// instruction per build directive.
func scan(src string) []instruction {
	var instrs []instruction
	lines := strings.Split(src, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		startLine := i + 1
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for strings.HasSuffix(line, "\\") && i+1 < len(lines) {
			i++
			line = strings.TrimSuffix(line, "\\") + " " + strings.TrimSpace(lines[i])
		}
		name, args, _ := strings.Cut(line, " ")
		instrs = append(instrs, instruction{
			name: strings.ToUpper(name),
			args: strings.TrimSpace(args),
			line: startLine,
		})
	}
	return instrs
}

func parseEnv(args string) (string, string, bool) {
	f := strings.Fields(args)
	if len(f) == 0 {
		return "", "", false
	}
	if k, v, ok := strings.Cut(f[0], "="); ok {
		return k, v, true
	}
	if len(f) >= 2 {
		return f[0], f[1], true // legacy space-separated form
	}
	return "", "", false
}

func parseExposePort(args string) int {
	f := strings.Fields(args)
	if len(f) == 0 {
		return 0
	}
	p, _, _ := strings.Cut(f[0], "/")
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}

// parseCommand handles both the exec form (JSON array) and the shell form,
// flattening `sh -c "..."` wrappers into their inner words.
func parseCommand(args string) []string {
	var tokens []string
	if strings.HasPrefix(args, "[") {
		if err := json.Unmarshal([]byte(args), &tokens); err != nil {
			return strings.Fields(args)
		}
	} else {
		tokens = strings.Fields(args)
	}
	if len(tokens) >= 3 && (tokens[0] == "sh" || tokens[0] == "/bin/sh") && tokens[1] == "-c" {
		return strings.Fields(strings.Join(tokens[2:], " "))
	}
	return tokens
}

func flagValue(tokens []string, flag string) (string, bool) {
	for i, t := range tokens {
		if t == flag && i+1 < len(tokens) {
			return tokens[i+1], true
		}
		if v, ok := strings.CutPrefix(t, flag+"="); ok {
			return v, true
		}
	}
	return "", false
}

// commandPort resolves the --port argument, following one level of
// environment indirection (ENV PORT=8000 + --port ${PORT} or ${PORT:-8000}).
func commandPort(tokens []string, env map[string]string) (int, bool) {
	v, ok := flagValue(tokens, "--port")
	if !ok {
		return 0, false
	}
	if m := envDefaultRe.FindStringSubmatch(v); m != nil {
		if ev, ok := env[m[1]]; ok {
			v = ev
		} else if m[2] != "" {
			v = m[2]
		} else {
			return 0, false // runtime-injected with no visible default
		}
	} else if strings.HasPrefix(v, "$") {
		if ev, ok := env[strings.TrimPrefix(v, "$")]; ok {
			v = ev
		} else {
			return 0, false
		}
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func uvicornTarget(tokens []string) (string, bool) {
	for i, t := range tokens {
		if t != "uvicorn" {
			continue
		}
		for _, cand := range tokens[i+1:] {
			if strings.HasPrefix(cand, "-") {
				continue
			}
			if strings.Contains(cand, ":") {
				return cand, true
			}
		}
	}
	return "", false
}

// copiesBeyondManifest reports whether a COPY pulls in more than a
// requirements-style manifest.
func copiesBeyondManifest(args string) bool {
	f := strings.Fields(args)
	if len(f) < 2 {
		return false
	}
	for _, src := range f[:len(f)-1] {
		if strings.HasPrefix(src, "--") {
			continue
		}
		base := strings.ToLower(src)
		if i := strings.LastIndexByte(base, '/'); i >= 0 {
			base = base[i+1:]
		}
		if !strings.HasPrefix(base, "requirements") && !strings.HasSuffix(base, ".txt") {
			return true
		}
	}
	return false
}
