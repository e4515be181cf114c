package codec

import (
	"bytes"
	"errors"
)

var ErrInvalidChunkSize = errors.New("分块大小必须为正数")

// Split 将字节切片按 chunkSize 切分为有序的分块列表
// 所有分块拼接后与输入完全一致;空输入也会产生恰好一个空分块,
// 零个分块不是合法结果
func Split(data []byte, chunkSize int64) ([][]byte, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}

	if int64(len(data)) <= chunkSize {
		return [][]byte{data}, nil
	}

	total := int64(len(data))
	parts := make([][]byte, 0, (total+chunkSize-1)/chunkSize)
	for start := int64(0); start < total; start += chunkSize {
		end := start + chunkSize
		if end > total {
			end = total
		}
		parts = append(parts, data[start:end])
	}
	return parts, nil
}

// Join 按顺序拼接分块,是 Split 的逆操作
func Join(parts [][]byte) []byte {
	return bytes.Join(parts, nil)
}
