package fingerprint

import (
	"strings"
	"unicode/utf8"
)

// NormalizeOperation 折叠字符串字面量之外的连续空白为单个空格并去除首尾空白，
// # 注释（直到行尾）整体视为空白。普通字符串（含转义）与 GraphQL 块字符串（"""）内部保持原样。
// 以 / 开头的 REST 路径只去除首尾空白，与实际发送的路径一致。
func NormalizeOperation(op string) string {
	trimmed := strings.TrimSpace(op)
	if strings.HasPrefix(trimmed, "/") {
		return trimmed
	}

	var b strings.Builder
	b.Grow(len(op))

	inString := false
	inBlock := false
	inComment := false
	escaped := false
	pendingSpace := false

	for i := 0; i < len(op); {
		r, size := utf8.DecodeRuneInString(op[i:])
		chunk := op[i : i+size]

		switch {
		case inComment:
			if r == '\n' || r == '\r' {
				inComment = false
				pendingSpace = b.Len() > 0
			}
			i += size
			continue
		case inBlock:
			if strings.HasPrefix(op[i:], `"""`) {
				b.WriteString(`"""`)
				i += 3
				inBlock = false
				continue
			}
			b.WriteString(chunk)
			i += size
			continue
		case inString:
			b.WriteString(chunk)
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			i += size
			continue
		}

		if isIgnoredSpace(r) {
			pendingSpace = b.Len() > 0
			i += size
			continue
		}
		if r == '#' {
			inComment = true
			pendingSpace = b.Len() > 0
			i += size
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}

		if r == '"' {
			if strings.HasPrefix(op[i:], `"""`) {
				b.WriteString(`"""`)
				i += 3
				inBlock = true
				continue
			}
			inString = true
		}
		b.WriteString(chunk)
		i += size
	}
	return b.String()
}

// isIgnoredSpace 只识别 GraphQL 词法中的空白与行结束符，均为 ASCII。
func isIgnoredSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}
