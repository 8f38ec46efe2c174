// Package field implements arithmetic over GF(2^8) and matrices of GF(2^8)
// elements, the building blocks of the Reed-Solomon coder.
package field

var (
	mulTable [256][256]byte
	invTable [256]byte
	expTable [510]byte // doubled so exp[log a + log b] needs no modulo
	logTable [256]byte
)

func init() {
	var x byte = 1
	for i := 0; i < 255; i++ {
		expTable[i] = x
		expTable[i+255] = x
		logTable[x] = byte(i)
		x = polyMul(x, Generator)
	}

	for a := 0; a < 256; a++ {
		for b := 0; b < 256; b++ {
			mulTable[a][b] = polyMul(byte(a), byte(b))
		}
	}

	// invTable[0] stays 0 and is never consulted; Inv panics first.
	for a := 1; a < 256; a++ {
		invTable[a] = expTable[255-int(logTable[a])]
	}
}

// Add returns a + b, which in characteristic 2 is XOR. Subtraction is the
// same operation.
func Add(a, b byte) byte {
	return a ^ b
}

// Mul returns a * b.
func Mul(a, b byte) byte {
	return mulTable[a][b]
}

// Inv returns the multiplicative inverse of a. Inverting zero is a programming
// error and panics; a zero pivot must be detected before it reaches here.
func Inv(a byte) byte {
	if a == 0 {
		panic("field: zero element is not invertible")
	}
	return invTable[a]
}

// Div returns a / b. Panics if b is zero.
func Div(a, b byte) byte {
	return Mul(a, Inv(b))
}

// Exp returns Generator raised to the power n.
func Exp(n int) byte {
	n %= 255
	if n < 0 {
		n += 255
	}
	return expTable[n]
}

// Pow returns a^n.
func Pow(a byte, n int) byte {
	if n == 0 {
		return 1
	}
	if a == 0 {
		return 0
	}
	return Exp(int(logTable[a]) * n)
}

// MulSlice sets out[i] = c * in[i]. out must be at least as long as in.
func MulSlice(c byte, in, out []byte) {
	row := &mulTable[c]
	out = out[:len(in)]
	for i, v := range in {
		out[i] = row[v]
	}
}

// MulAddSlice sets out[i] ^= c * in[i]. out must be at least as long as in.
func MulAddSlice(c byte, in, out []byte) {
	switch c {
	case 0:
		return
	case 1:
		out = out[:len(in)]
		for i, v := range in {
			out[i] ^= v
		}
		return
	}
	row := &mulTable[c]
	out = out[:len(in)]
	for i, v := range in {
		out[i] ^= row[v]
	}
}
