package biz

import (
	"strings"
	"unicode"
)

// Span 分块自身句子在原文中的 rune 区间 [Start, End)，不含重叠前缀。
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Chunk 文档分块。
type Chunk struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
	Span       Span   `json:"span"`
}

// Chunker 按句子边界切分文本。长度均以 rune 计。
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker 创建分块器。
func NewChunker(size, overlap int) *Chunker {
	return &Chunker{Size: size, Overlap: overlap}
}

type sentence struct {
	text  string
	start int
	end   int
}

// splitSentences 按连续的 . ! ? 切分，去除首尾空白并丢弃空句。
func splitSentences(runes []rune) []sentence {
	var out []sentence
	emit := func(from, to int) {
		for from < to && unicode.IsSpace(runes[from]) {
			from++
		}
		for to > from && unicode.IsSpace(runes[to-1]) {
			to--
		}
		if from < to {
			out = append(out, sentence{text: string(runes[from:to]), start: from, end: to})
		}
	}

	segStart := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		emit(segStart, i)
		for i+1 < len(runes) && isTerminator(runes[i+1]) {
			i++
		}
		segStart = i + 1
	}
	emit(segStart, len(runes))
	return out
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// Split 把文本切分为分块文本序列。
func (c *Chunker) Split(text string) []string {
	chunks := c.chunk("", text)
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Text
	}
	return out
}

// ChunkDocument 切分文档并附带文档 ID、序号和区间。
func (c *Chunker) ChunkDocument(doc Document) []Chunk {
	return c.chunk(doc.ID, doc.Content)
}

// chunk 贪心打包句子：len(cur)+len(s)+1 <= Size 时以空格拼接；
// 否则输出当前块，并以其末尾 Overlap 个 rune 加上触发溢出的句子开始下一块。
// 超过 Size 的单句独立成块，不截断。
func (c *Chunker) chunk(docID, text string) []Chunk {
	sentences := splitSentences([]rune(text))
	if len(sentences) == 0 {
		return nil
	}

	var (
		out   []Chunk
		cur   []rune
		span  Span
		empty = true
	)
	flush := func() {
		t := strings.TrimSpace(string(cur))
		if t == "" {
			return
		}
		out = append(out, Chunk{DocumentID: docID, Index: len(out), Text: t, Span: span})
	}

	for _, s := range sentences {
		sr := []rune(s.text)
		if len(cur)+len(sr)+1 <= c.Size {
			if empty {
				cur = append(cur[:0], sr...)
				span = Span{Start: s.start, End: s.end}
				empty = false
			} else {
				cur = append(append(cur, ' '), sr...)
				span.End = s.end
			}
			continue
		}

		if !empty {
			flush()
		}

		next := make([]rune, 0, c.Overlap+1+len(sr))
		if c.Overlap > 0 && len(cur) > c.Overlap {
			next = append(next, cur[len(cur)-c.Overlap:]...)
			next = append(next, ' ')
		}
		cur = append(next, sr...)
		span = Span{Start: s.start, End: s.end}
		empty = false
	}

	if !empty {
		flush()
	}
	return out
}
