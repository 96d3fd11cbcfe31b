// Package conv appends decimal text to byte slices without fmt or
// strconv, for status lines built on MCU targets.
package conv

// AppendUint appends the base-10 form of n.
func AppendUint(dst []byte, n uint64) []byte {
	var buf [20]byte
	i := len(buf)
	for {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	return append(dst, buf[i:]...)
}

// AppendInt appends the base-10 form of n.
func AppendInt(dst []byte, n int64) []byte {
	u := uint64(n)
	if n < 0 {
		dst = append(dst, '-')
		u = -u // wraps to the magnitude, including for math.MinInt64
	}
	return AppendUint(dst, u)
}

// AppendFixed appends v rounded half away from zero to dec decimals
// (0..6), e.g. AppendFixed(nil, -1.25, 3) is "-1.250".
func AppendFixed(dst []byte, v float64, dec int) []byte {
	if dec < 0 {
		dec = 0
	}
	if dec > 6 {
		dec = 6
	}
	scale := uint64(1)
	for i := 0; i < dec; i++ {
		scale *= 10
	}
	neg := v < 0
	if neg {
		v = -v
	}
	q := uint64(v*float64(scale) + 0.5)
	if neg && q != 0 {
		dst = append(dst, '-')
	}
	dst = AppendUint(dst, q/scale)
	if dec == 0 {
		return dst
	}
	dst = append(dst, '.')
	frac := q % scale
	for d := scale / 10; d > 0; d /= 10 {
		dst = append(dst, byte('0'+frac/d%10))
	}
	return dst
}
