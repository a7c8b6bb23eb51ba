package exchange

import (
	"fmt"
	"strings"
)

// ScriptCommand 脚本里的一条命令。
type ScriptCommand struct {
	Name string
	Args []Arg
}

// ParseScript 解析命令脚本。命令之间用分号或换行分隔，例如
//
//	limitOrder(side=buy, amount=1, offset=100); wait(30s); balance()
//
// 参数可以命名（name=value）也可以按位置排，值可以用双引号包起来。
// 不带括号的裸命令名也接受。
func ParseScript(script string) ([]ScriptCommand, error) {
	var commands []ScriptCommand
	for _, statement := range splitStatements(script) {
		statement = strings.TrimSpace(statement)
		if statement == "" || strings.HasPrefix(statement, "#") {
			continue
		}
		cmd, err := parseStatement(statement)
		if err != nil {
			return nil, err
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}

// splitStatements 按分号和换行切分，引号里的不算。
func splitStatements(script string) []string {
	var out []string
	var sb strings.Builder
	inQuote := false
	for _, r := range script {
		switch {
		case r == '"':
			inQuote = !inQuote
			sb.WriteRune(r)
		case (r == ';' || r == '\n') && !inQuote:
			out = append(out, sb.String())
			sb.Reset()
		default:
			sb.WriteRune(r)
		}
	}
	out = append(out, sb.String())
	return out
}

func parseStatement(statement string) (ScriptCommand, error) {
	open := strings.IndexByte(statement, '(')
	if open < 0 {
		if strings.ContainsAny(statement, ") \t") {
			return ScriptCommand{}, fmt.Errorf("malformed command: %q", statement)
		}
		return ScriptCommand{Name: statement}, nil
	}
	if !strings.HasSuffix(statement, ")") {
		return ScriptCommand{}, fmt.Errorf("missing closing bracket: %q", statement)
	}

	name := strings.TrimSpace(statement[:open])
	if name == "" {
		return ScriptCommand{}, fmt.Errorf("command has no name: %q", statement)
	}
	body := statement[open+1 : len(statement)-1]

	var args []Arg
	for i, piece := range splitArgs(body) {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		arg := Arg{Index: i}
		if eq := strings.IndexByte(piece, '='); eq >= 0 {
			arg.Name = strings.TrimSpace(piece[:eq])
			arg.Value = unquote(strings.TrimSpace(piece[eq+1:]))
		} else {
			arg.Value = unquote(piece)
		}
		args = append(args, arg)
	}
	return ScriptCommand{Name: name, Args: args}, nil
}

// splitArgs 按逗号切分，引号里的逗号不算。
func splitArgs(body string) []string {
	var out []string
	var sb strings.Builder
	inQuote := false
	for _, r := range body {
		switch {
		case r == '"':
			inQuote = !inQuote
			sb.WriteRune(r)
		case r == ',' && !inQuote:
			out = append(out, sb.String())
			sb.Reset()
		default:
			sb.WriteRune(r)
		}
	}
	out = append(out, sb.String())
	return out
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
