package retrieval

import (
	"strings"
	"unicode"
)

// Splitter 按字符（rune）数把文本切分为有重叠的片段，尽量在换行或空白处断开。
type Splitter struct {
	Size    int
	Overlap int
}

func (s Splitter) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	n := len(runes)
	if n == 0 {
		return nil
	}
	size := s.Size
	if size <= 0 {
		size = 1000
	}
	overlap := s.Overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var out []string
	start := 0
	for start < n {
		end := start + size
		if end >= n {
			end = n
		} else if b := lastBreak(runes[start:end]); b > size/2 {
			end = start + b
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			out = append(out, chunk)
		}
		if end >= n {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// lastBreak 返回窗口内最后一个断点之后的位置：优先段落，其次换行，最后空白；没有时返回 -1。
func lastBreak(window []rune) int {
	s := string(window)
	if i := strings.LastIndex(s, "\n\n"); i >= 0 {
		return len([]rune(s[:i])) + 2
	}
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '\n' {
			return i + 1
		}
	}
	for i := len(window) - 1; i >= 0; i-- {
		if unicode.IsSpace(window[i]) {
			return i + 1
		}
	}
	return -1
}
