package retrieval

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// FormatContext 把检索结果格式化为一段带编号和来源的文本，总长度不超过 maxChars（<=0 表示不限制）。
func FormatContext(chunks []Chunk, maxChars int) string {
	var b strings.Builder
	used := 0
	for i, c := range chunks {
		header := fmt.Sprintf("[%d] Original PDF name: %s", i+1, filepath.Base(c.Source))
		if c.Locator != "" {
			header += ", page: " + c.Locator
		}
		block := header + "\n" + strings.TrimSpace(c.Content) + "\n\n"

		n := utf8.RuneCountInString(block)
		if maxChars > 0 && used+n > maxChars {
			// 剩余预算还放得下标题时截断放入最后一块
			rest := maxChars - used
			if i == 0 || rest > utf8.RuneCountInString(header)+1 {
				b.WriteString(string([]rune(block)[:rest]))
			}
			break
		}
		b.WriteString(block)
		used += n
	}
	return strings.TrimRight(b.String(), "\n")
}
