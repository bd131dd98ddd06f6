package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// 分隔符按优先级排列：先按段落、再按换行与句末标点切分，
// 全部失配时退化为硬切分。
var defaultSeparators = []string{"\n\n", "\n", "。", ". ", " "}

// Splitter 将长文本切分为带重叠的分块，优先保留段落与句子边界。
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewSplitter 创建一个分块器。重叠必须小于分块大小，否则立即报错。
func NewSplitter(chunkSize, chunkOverlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("无效的分块大小: %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("无效的分块重叠: %d (分块大小 %d)", chunkOverlap, chunkSize)
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}, nil
}

// Split 将文本切分为分块序列。每个分块不超过 chunkSize 个字符，
// 相邻分块共享至多 chunkOverlap 个字符的尾部重叠。
func (s *Splitter) Split(text string) []string {
	fragments := s.fragment(text, s.separators)

	var chunks []string
	var cur []rune
	for _, f := range fragments {
		fr := []rune(f)
		if len(cur) > 0 && len(cur)+len(fr) > s.chunkSize {
			if chunk := strings.TrimSpace(string(cur)); chunk != "" {
				chunks = append(chunks, chunk)
			}
			// 新块以上一块的尾部开头，避免边界处语义断裂
			start := len(cur) - s.chunkOverlap
			if start < 0 {
				start = 0
			}
			cur = append([]rune(nil), cur[start:]...)
			// 重叠放不下时舍弃重叠，保证分块不超限
			if len(cur)+len(fr) > s.chunkSize {
				cur = cur[:0]
			}
		}
		cur = append(cur, fr...)
	}
	if chunk := strings.TrimSpace(string(cur)); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// fragment 递归地把文本拆成不超过 chunkSize 的片段，
// 每一级尝试一个分隔符，拆不动时进入下一级。
func (s *Splitter) fragment(text string, separators []string) []string {
	if utf8.RuneCountInString(text) <= s.chunkSize {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}
	if len(separators) == 0 {
		return s.hardCut(text)
	}

	parts := splitKeepSeparator(text, separators[0])
	if len(parts) == 1 {
		return s.fragment(text, separators[1:])
	}
	var out []string
	for _, p := range parts {
		out = append(out, s.fragment(p, separators[1:])...)
	}
	return out
}

// hardCut 按字符数直接切分，不考虑语义边界。
func (s *Splitter) hardCut(text string) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += s.chunkSize {
		end := i + s.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// splitKeepSeparator 按分隔符切分并把分隔符保留在片段尾部，
// 保证拼接回去不丢失任何字符。
func splitKeepSeparator(text, sep string) []string {
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return parts
	}
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			p += sep
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
