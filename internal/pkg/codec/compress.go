package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/duckyoo9/fileduck/internal/pkg/xerr"
	"github.com/klauspost/compress/zlib"
)

const (
	// DefaultCompressThreshold 小于该大小的文件不值得压缩
	DefaultCompressThreshold = 10 * 1024 * 1024
	// DefaultMinGain 压缩结果至少要比原始小5%才保留
	DefaultMinGain = 0.05
)

// Compressor 决定是否压缩并执行压缩/解压
// 使用 zlib(deflate 系列)最高压缩比,对已压缩媒体和加密内容放弃压缩
type Compressor struct {
	threshold int64
	minGain   float64
}

func NewCompressor(threshold int64, minGain float64) *Compressor {
	if threshold <= 0 {
		threshold = DefaultCompressThreshold
	}
	if minGain <= 0 {
		minGain = DefaultMinGain
	}
	return &Compressor{threshold: threshold, minGain: minGain}
}

// ShouldCompress 仅对超过阈值的内容尝试压缩
func (c *Compressor) ShouldCompress(size int64) bool {
	return size > c.threshold
}

// Compress 以最高压缩比压缩数据
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("初始化压缩器失败: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("压缩数据失败: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("压缩数据失败: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress 解压数据,输入格式非法时返回 ErrDecodeError
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrDecodeError, err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrDecodeError, err)
	}
	return out, nil
}

// CompressIfWorthwhile 执行上传侧的压缩策略:
// 超过阈值才压缩,且压缩后至少比原始小 minGain 比例才采用,
// 否则返回原始数据并标记未压缩
func (c *Compressor) CompressIfWorthwhile(data []byte) (processed []byte, compressed bool, err error) {
	if !c.ShouldCompress(int64(len(data))) {
		return data, false, nil
	}

	out, err := c.Compress(data)
	if err != nil {
		return nil, false, err
	}

	ratio := float64(len(out)) / float64(len(data))
	if ratio >= 1.0-c.minGain {
		// 压缩收益不足,存储原始内容
		return data, false, nil
	}
	return out, true, nil
}
