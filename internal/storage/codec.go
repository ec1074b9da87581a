package storage

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// codec сжимает записи уровней. Encoder и Decoder zstd безопасны для
// конкурентных EncodeAll/DecodeAll.
type codec struct {
	once         sync.Once
	err          error
	compressor   *zstd.Encoder
	decompressor *zstd.Decoder
}

func (c *codec) init() error {
	c.once.Do(func() {
		c.compressor, c.err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if c.err != nil {
			return
		}
		c.decompressor, c.err = zstd.NewReader(nil)
	})
	return c.err
}

func (c *codec) compress(data []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return c.compressor.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *codec) decompress(data []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	out, err := c.decompressor.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

func (c *codec) close() {
	if c.compressor != nil {
		c.compressor.Close()
	}
	if c.decompressor != nil {
		c.decompressor.Close()
	}
}
