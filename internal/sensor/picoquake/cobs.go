package picoquake

import "github.com/pkg/errors"

// cobsEncode applies Consistent Overhead Byte Stuffing. The output never contains 0x00
// and carries no trailing delimiter.
func cobsEncode(src []byte) []byte {
	dst := make([]byte, 1, len(src)+len(src)/254+2)
	codeIdx := 0
	code := byte(1)
	for _, b := range src {
		if b == 0 {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
			continue
		}
		dst = append(dst, b)
		code++
		if code == 0xFF {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
		}
	}
	dst[codeIdx] = code
	return dst
}

// cobsDecode reverses cobsEncode.
func cobsDecode(src []byte) ([]byte, error) {
	dst := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		code := src[i]
		if code == 0 {
			return nil, errors.Wrapf(ErrDecode, "zero byte at %d", i)
		}
		i++
		end := i + int(code) - 1
		if end > len(src) {
			return nil, errors.Wrapf(ErrDecode, "block at %d overruns input", i-1)
		}
		for ; i < end; i++ {
			if src[i] == 0 {
				return nil, errors.Wrapf(ErrDecode, "zero byte at %d", i)
			}
			dst = append(dst, src[i])
		}
		if code < 0xFF && i < len(src) {
			dst = append(dst, 0)
		}
	}
	return dst, nil
}
