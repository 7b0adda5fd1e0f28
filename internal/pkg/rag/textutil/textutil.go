// Package textutil 提供 RAG 相关的文本与向量工具函数。
package textutil

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"unicode/utf8"
)

// CosineSimilarity 计算两个向量的余弦相似度。
// 返回值范围为 [-1, 1]；长度不一致或存在零向量时返回 0。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineDistance 返回 1 - 余弦相似度，值越小越相似。
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

// SquaredL2Distance 计算两个等长向量的欧氏距离平方。
func SquaredL2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// Normalize 原地将向量归一化为单位长度，零向量保持不变。
func Normalize(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

// NormalizeQuestion 去除首尾空白并转为小写。
func NormalizeQuestion(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// HashString 计算字符串的 SHA-256 十六进制摘要。
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// TruncateString 截断字符串到指定的最大 Unicode 字符数。
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen])
}

// Tokenize 将文本切分为小写的字母数字词元。
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r == '_' || ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') || r > utf8.RuneSelf)
	})
}
