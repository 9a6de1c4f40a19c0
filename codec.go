package zarrpeek

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressorConfig is the compressor descriptor as declared in array
// metadata. ID "" or "none" means chunks are stored raw.
type CompressorConfig struct {
	ID      string `json:"id"`
	Cname   string `json:"cname,omitempty"`
	Clevel  int    `json:"clevel,omitempty"`
	Shuffle int    `json:"shuffle,omitempty"`
	Level   int    `json:"level,omitempty"`
}

// Compressor turns a compressed chunk payload back into dstLen raw bytes.
// Implementations must reject truncated or oversized results rather than
// returning short buffers.
type Compressor interface {
	Name() string
	Decode(src []byte, dstLen int) ([]byte, error)
}

// Compressor resolves the named codec from the closed registry of supported
// compressors. Unknown ids are a metadata problem, not a decode problem.
func (c CompressorConfig) Compressor() (Compressor, error) {
	switch c.ID {
	case "", "none":
		return rawCodec{}, nil
	case "gzip":
		return gzipCodec{}, nil
	case "zlib":
		return zlibCodec{}, nil
	case "zstd":
		return zstdCodec{}, nil
	case "blosc":
		return bloscCodec{}, nil
	default:
		return nil, metadataErrf("", "unsupported compressor id %q", c.ID)
	}
}

type rawCodec struct{}

func (rawCodec) Name() string { return "none" }

func (rawCodec) Decode(src []byte, dstLen int) ([]byte, error) {
	if len(src) != dstLen {
		return nil, fmt.Errorf("raw chunk is %d bytes, want %d", len(src), dstLen)
	}
	return src, nil
}

type gzipCodec struct{}

func (gzipCodec) Name() string { return "gzip" }

func (gzipCodec) Decode(src []byte, dstLen int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readExactly(r, dstLen)
}

type zlibCodec struct{}

func (zlibCodec) Name() string { return "zlib" }

func (zlibCodec) Decode(src []byte, dstLen int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readExactly(r, dstLen)
}

type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) Decode(src []byte, dstLen int) ([]byte, error) {
	r, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	dst, err := r.DecodeAll(src, make([]byte, 0, dstLen))
	if err != nil {
		return nil, err
	}
	if len(dst) != dstLen {
		return nil, fmt.Errorf("zstd chunk decoded to %d bytes, want %d", len(dst), dstLen)
	}
	return dst, nil
}

func readExactly(r io.Reader, n int) ([]byte, error) {
	dst := make([]byte, n)
	if _, err := io.ReadFull(r, dst); err != nil {
		return nil, err
	}
	// anything left over means the payload disagrees with the declared shape
	var extra [1]byte
	if m, _ := r.Read(extra[:]); m != 0 {
		return nil, fmt.Errorf("chunk decompressed past expected %d bytes", n)
	}
	return dst, nil
}

// Blosc version 1 container. A 16-byte header is followed either by the raw
// payload (memcpy mode) or by a table of absolute block offsets and one
// compressed stream group per block. Blocks whose inner codec is lz4 (or
// blosclz) may be split into typesize sub-streams, each prefixed with its
// own int32 compressed length. See the c-blosc format description.
//
// Inner codecs lz4/lz4hc, snappy, zlib and zstd are decoded. Blosclz streams
// are only readable when stored uncompressed (the container marks streams
// compression did not shrink); actually compressed blosclz is rejected.
const (
	bloscHeaderLen     = 16
	bloscFlagShuffle   = 0x01
	bloscFlagMemcpy    = 0x02
	bloscFlagBitshuf   = 0x04
	bloscCodecBloscLZ  = 0
	bloscCodecLZ4      = 1 // shared by lz4 and lz4hc
	bloscCodecSnappy   = 2
	bloscCodecZlib     = 3
	bloscCodecZstd     = 4
	bloscMaxSplits     = 16
	bloscMinBufferSize = 128
)

type bloscCodec struct{}

func (bloscCodec) Name() string { return "blosc" }

func (bloscCodec) Decode(src []byte, dstLen int) ([]byte, error) {
	if len(src) < bloscHeaderLen {
		return nil, fmt.Errorf("blosc chunk shorter than header (%d bytes)", len(src))
	}
	flags := src[2]
	typesize := int(src[3])
	nbytes := int(binary.LittleEndian.Uint32(src[4:8]))
	blocksize := int(binary.LittleEndian.Uint32(src[8:12]))
	cbytes := int(binary.LittleEndian.Uint32(src[12:16]))

	if nbytes != dstLen {
		return nil, fmt.Errorf("blosc chunk holds %d bytes, want %d", nbytes, dstLen)
	}
	if cbytes > len(src) {
		return nil, fmt.Errorf("blosc chunk truncated: header claims %d bytes, have %d", cbytes, len(src))
	}
	if flags&bloscFlagBitshuf != 0 {
		return nil, fmt.Errorf("blosc bit-shuffle filter not supported")
	}

	dst := make([]byte, nbytes)
	if flags&bloscFlagMemcpy != 0 {
		// memcpy mode stores the original buffer verbatim, pre-shuffle
		if len(src) < bloscHeaderLen+nbytes {
			return nil, fmt.Errorf("blosc memcpy chunk truncated")
		}
		copy(dst, src[bloscHeaderLen:bloscHeaderLen+nbytes])
		return dst, nil
	}

	if err := bloscDecodeBlocks(src, dst, flags, typesize, blocksize); err != nil {
		return nil, err
	}
	return dst, nil
}

func bloscDecodeBlocks(src, dst []byte, flags byte, typesize, blocksize int) error {
	if blocksize <= 0 {
		return fmt.Errorf("blosc block size %d invalid", blocksize)
	}
	codec := int(flags >> 5)
	nbytes := len(dst)
	nblocks := (nbytes + blocksize - 1) / blocksize

	if len(src) < bloscHeaderLen+4*nblocks {
		return fmt.Errorf("blosc chunk truncated in block offset table")
	}
	bstarts := make([]int, nblocks)
	for i := range bstarts {
		bstarts[i] = int(binary.LittleEndian.Uint32(src[bloscHeaderLen+4*i:]))
	}

	for i := 0; i < nblocks; i++ {
		blockLen := blocksize
		leftover := false
		if i == nblocks-1 && nbytes%blocksize != 0 {
			blockLen = nbytes % blocksize
			leftover = true
		}

		// lz4-family blocks are split per byte lane when shuffling made
		// the lanes independently compressible
		nsplits := 1
		if !leftover && (codec == bloscCodecBloscLZ || codec == bloscCodecLZ4) &&
			typesize > 1 && typesize <= bloscMaxSplits && blocksize/typesize >= bloscMinBufferSize {
			nsplits = typesize
		}

		pos := bstarts[i]
		outPos := i * blocksize
		streamLen := blockLen / nsplits
		for j := 0; j < nsplits; j++ {
			if pos+4 > len(src) {
				return fmt.Errorf("blosc chunk truncated in block %d", i)
			}
			streamBytes := int(int32(binary.LittleEndian.Uint32(src[pos:])))
			pos += 4
			if streamBytes < 0 || pos+streamBytes > len(src) {
				return fmt.Errorf("blosc chunk truncated in block %d stream %d", i, j)
			}
			stream := src[pos : pos+streamBytes]
			pos += streamBytes

			out := dst[outPos : outPos+streamLen]
			if streamBytes == streamLen {
				// stored uncompressed when compression did not pay off
				copy(out, stream)
			} else if err := bloscDecodeStream(codec, stream, out); err != nil {
				return fmt.Errorf("blosc block %d: %w", i, err)
			}
			outPos += streamLen
		}

		// the shuffle filter runs per block, so undo it per block too
		if flags&bloscFlagShuffle != 0 && typesize > 1 {
			block := dst[i*blocksize : i*blocksize+blockLen]
			copy(block, byteUnshuffle(block, typesize))
		}
	}
	return nil
}

func bloscDecodeStream(codec int, src, dst []byte) error {
	switch codec {
	case bloscCodecLZ4:
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return err
		}
		if n != len(dst) {
			return fmt.Errorf("lz4 stream decoded to %d bytes, want %d", n, len(dst))
		}
		return nil
	case bloscCodecSnappy:
		out, err := snappy.Decode(dst[:0], src)
		if err != nil {
			return err
		}
		if len(out) != len(dst) {
			return fmt.Errorf("snappy stream decoded to %d bytes, want %d", len(out), len(dst))
		}
		if &out[0] != &dst[0] {
			copy(dst, out)
		}
		return nil
	case bloscCodecZlib:
		r, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return err
		}
		defer r.Close()
		_, err = io.ReadFull(r, dst)
		return err
	case bloscCodecZstd:
		return (zstdCodec{}).decodeInto(src, dst)
	case bloscCodecBloscLZ:
		return fmt.Errorf("blosclz-compressed streams not supported; re-encode the store with cname lz4, zstd, zlib or snappy")
	default:
		return fmt.Errorf("blosc inner codec %d not supported", codec)
	}
}

func (zstdCodec) decodeInto(src, dst []byte) error {
	out, err := (zstdCodec{}).Decode(src, len(dst))
	if err != nil {
		return err
	}
	copy(dst, out)
	return nil
}

// byteUnshuffle reverses blosc's byte-transpose filter: input holds all
// first bytes of every sample, then all second bytes, and so on. Trailing
// bytes that do not fill a whole sample are stored unshuffled.
func byteUnshuffle(src []byte, typesize int) []byte {
	count := len(src) / typesize
	dst := make([]byte, len(src))
	for j := 0; j < typesize; j++ {
		lane := src[j*count:]
		for i := 0; i < count; i++ {
			dst[i*typesize+j] = lane[i]
		}
	}
	copy(dst[count*typesize:], src[count*typesize:])
	return dst
}
