package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// Base62 字母表 (0-9A-Za-z)
const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// ShareCodeLength 10个base62字符约59位熵,远高于40位下限
const ShareCodeLength = 10

var shareCodePattern = regexp.MustCompile(`^[0-9A-Za-z]{8,10}$`)

// GenerateShareCode 生成一个新的分享码
func GenerateShareCode() (string, error) {
	var sb strings.Builder
	sb.Grow(ShareCodeLength)
	max := big.NewInt(int64(len(base62Alphabet)))
	for i := 0; i < ShareCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("生成分享码失败: %w", err)
		}
		sb.WriteByte(base62Alphabet[n.Int64()])
	}
	return sb.String(), nil
}

// ValidateShareCode 校验分享码格式:8-10个base62字符
func ValidateShareCode(code string) bool {
	return shareCodePattern.MatchString(code)
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeFilename 移除文件名中的危险字符并限制长度
func SanitizeFilename(filename string) string {
	safe := unsafeFilenameChars.ReplaceAllString(filename, "_")
	if len(safe) > 255 {
		safe = safe[:255]
	}
	return safe
}

var mimeTypePattern = regexp.MustCompile(`(?i)^[a-z]+/[a-z0-9\-\+\.]+$`)

// IsValidMimeType 基础的MIME类型格式校验
func IsValidMimeType(mimeType string) bool {
	return mimeTypePattern.MatchString(mimeType)
}
