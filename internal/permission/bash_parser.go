package permission

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// BashCommand is one simple command lifted out of a shell line: its
// name, flattened arguments, and the first non-flag argument as the
// subcommand ("commit" in "git commit -m x").
type BashCommand struct {
	Name       string
	Args       []string
	Subcommand string
}

// ParseBashCommand walks a shell line with mvdan/sh's bash parser and
// returns every simple command it invokes — across pipelines, &&/||
// chains, semicolons, and subshells — so each one can be policy-checked
// individually.
func ParseBashCommand(command string) ([]BashCommand, error) {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(false))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	var out []BashCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		name := flattenWord(call.Args[0])
		if name == "" {
			return true
		}
		cmd := BashCommand{Name: name}
		for _, arg := range call.Args[1:] {
			s := flattenWord(arg)
			cmd.Args = append(cmd.Args, s)
			if cmd.Subcommand == "" && !strings.HasPrefix(s, "-") {
				cmd.Subcommand = s
			}
		}
		out = append(out, cmd)
		return true
	})
	return out, nil
}

// flattenWord renders a shell word as the literal text policy matching
// sees. Quoting is stripped; dynamic content stays visibly dynamic — a
// variable renders as "$NAME" and a command substitution as "$()" so
// neither can impersonate an allowed literal.
func flattenWord(word *syntax.Word) string {
	var b strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			b.WriteString(p.Value)
		case *syntax.SglQuoted:
			b.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				if lit, ok := inner.(*syntax.Lit); ok {
					b.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			b.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			b.WriteString("$()")
		}
	}
	return b.String()
}

// DangerousCommands name the commands whose path arguments get
// validated against the project boundary before execution.
var DangerousCommands = map[string]bool{
	"cd":    true,
	"rm":    true,
	"cp":    true,
	"mv":    true,
	"mkdir": true,
	"touch": true,
	"chmod": true,
	"chown": true,
	"rmdir": true,
	"dd":    true,
}

// IsDangerousCommand reports whether name is path-validated.
func IsDangerousCommand(name string) bool {
	return DangerousCommands[name]
}

// ExtractPaths picks the arguments of cmd that look like file paths:
// flags are skipped, and chmod's mode argument (numeric or symbolic
// like "u+x") is excluded since it only resembles a path.
func ExtractPaths(cmd BashCommand) []string {
	var paths []string
	modeSeen := false
	for _, arg := range cmd.Args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		if cmd.Name == "chmod" && !modeSeen {
			modeSeen = true
			if looksLikeChmodMode(arg) {
				continue
			}
		}
		paths = append(paths, arg)
	}
	return paths
}

func looksLikeChmodMode(arg string) bool {
	if arg == "" {
		return false
	}
	switch arg[0] {
	case 'u', 'g', 'o', 'a', '+', '=':
		return true
	}
	return arg[0] >= '0' && arg[0] <= '9'
}

// ResolvePath turns a command argument into an absolute path for
// boundary checks. Relative paths resolve through realpath -m when
// available (it canonicalizes symlinks without requiring the target to
// exist), falling back to a plain join. A leading ~ is returned as-is;
// the invoking user's home is not ours to guess.
func ResolvePath(ctx context.Context, path, workDir string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	if strings.HasPrefix(path, "~") {
		return path, nil
	}

	cmd := exec.CommandContext(ctx, "realpath", "-m", path)
	cmd.Dir = workDir
	if out, err := cmd.Output(); err == nil {
		return strings.TrimSpace(string(out)), nil
	}
	return filepath.Clean(filepath.Join(workDir, path)), nil
}

// IsWithinDir reports whether path sits at or below dir.
func IsWithinDir(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
