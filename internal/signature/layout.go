// Package signature computes block-size layouts and encodes/decodes the
// per-file signature exchanged between generator and sender.
package signature

import (
	"fmt"
	"math"
)

const (
	minBlockLength = 700
	// maxBlockLength is the ceiling for protocol >= 27; older protocols
	// cap lower because the wire block-length field was once 16-bit.
	maxBlockLength       = 1 << 17
	legacyMaxBlockLength = 1 << 15

	// DefaultStrongSumLen is the strong digest truncation used unless the
	// peer negotiates something shorter.
	DefaultStrongSumLen = 16
)

// Layout describes how a basis file of a given length is carved into
// fixed-size blocks for signature generation.
type Layout struct {
	FileLen      int64
	BlockLen     int32
	BlockCount   int32
	Remainder    int32
	StrongSumLen int32
}

// LayoutError reports that a requested layout could not be satisfied.
type LayoutError struct {
	Reason string
}

func (e *LayoutError) Error() string { return "signature: " + e.Reason }

// CalculateLayout derives the signature layout for a basis file of length
// fileLen under protocolVersion, honoring an explicit block-length
// override when override > 0.
func CalculateLayout(fileLen int64, protocolVersion int32, override int32) (Layout, error) {
	if fileLen < 0 {
		return Layout{}, &LayoutError{Reason: fmt.Sprintf("negative file length %d", fileLen)}
	}

	ceiling := int32(maxBlockLength)
	if protocolVersion < 27 {
		ceiling = legacyMaxBlockLength
	}

	var blockLen int32
	switch {
	case override > 0:
		blockLen = override
	case fileLen == 0:
		blockLen = minBlockLength
	default:
		blockLen = roundToMultipleOf8(sqrtBlockLen(fileLen))
		if blockLen < minBlockLength {
			blockLen = minBlockLength
		}
	}
	if blockLen > ceiling {
		blockLen = ceiling
	}
	if blockLen <= 0 {
		return Layout{}, &LayoutError{Reason: "computed a non-positive block length"}
	}

	if fileLen == 0 {
		return Layout{
			FileLen:      0,
			BlockLen:     blockLen,
			BlockCount:   0,
			Remainder:    0,
			StrongSumLen: DefaultStrongSumLen,
		}, nil
	}

	blockCount := (fileLen + int64(blockLen) - 1) / int64(blockLen)
	if blockCount > math.MaxInt32 {
		return Layout{}, &LayoutError{Reason: "block count overflows int32"}
	}
	remainder := int32(fileLen % int64(blockLen))

	return Layout{
		FileLen:      fileLen,
		BlockLen:     blockLen,
		BlockCount:   int32(blockCount),
		Remainder:    remainder,
		StrongSumLen: DefaultStrongSumLen,
	}, nil
}

// sqrtBlockLen implements rsync's sum_sizes_sqroot heuristic:
// block_len ~= sqrt(file_len).
func sqrtBlockLen(fileLen int64) int32 {
	root := math.Sqrt(float64(fileLen))
	if root > float64(math.MaxInt32) {
		return math.MaxInt32
	}
	return int32(root)
}

func roundToMultipleOf8(v int32) int32 {
	if v <= 0 {
		return 8
	}
	return (v + 7) &^ 7
}

// BlockLength returns the length of the block at idx: BlockLen for every
// block except possibly the last, which is Remainder bytes when Remainder
// is nonzero.
func (l Layout) BlockLength(idx int32) int32 {
	if l.Remainder != 0 && idx == l.BlockCount-1 {
		return l.Remainder
	}
	return l.BlockLen
}

// Offset returns the byte offset of block idx within the basis file.
func (l Layout) Offset(idx int32) int64 {
	return int64(idx) * int64(l.BlockLen)
}
