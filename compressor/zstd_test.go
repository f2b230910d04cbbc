package compressor

import (
	"bytes"
	"testing"
)

func makeData(size int) []byte {
	data := make([]byte, size)
	for i := 0; i < size; i++ {
		data[i] = byte(i % 256)
	}
	return data
}

// compress/zstd検証
func TestZstdCompressor_Compress(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{name: "軽いデータの圧縮", input: bytes.Repeat([]byte("Hello, World! "), 10)},
		{name: "1KByte程度のデータの圧縮", input: makeData(1024)},
		{name: "1MByte程度のデータの圧縮", input: makeData(1024 * 1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			z := &ZstdCompressor{}

			compressed, err := z.Compress(tt.input)
			if err != nil {
				t.Fatalf("Compress() error = %v", err)
			}

			decompressed, err := z.Decompress(compressed)
			if err != nil {
				t.Fatalf("Decompress() error = %v", err)
			}

			if !bytes.Equal(tt.input, decompressed) {
				t.Error("圧縮→解凍後のデータが元のデータと一致しません")
			}
		})
	}
}

func TestZstdCompressor_Compress_NotShrunk(t *testing.T) {
	z := &ZstdCompressor{}
	// 1バイトはzstdヘッダーオーバーヘッドより小さいため、常に ErrNotShrunk になる
	if _, err := z.Compress([]byte{0x01}); err != ErrNotShrunk {
		t.Fatalf("err = %v, want ErrNotShrunk", err)
	}
}
