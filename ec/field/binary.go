package field

// Polynomial-basis arithmetic over GF(2)[x]. These routines are slow and are
// only used to generate the lookup tables in gf256.go; tests use them as the
// reference for the table-driven operations.

// Polynomial is the irreducible polynomial x^8 + x^4 + x^3 + x^2 + 1 that
// defines GF(2^8). Every table, the Cauchy construction and matrix inversion
// agree on it.
const Polynomial = 0x11D

// Generator is a primitive element of GF(2^8) under Polynomial.
const Generator = 0x02

// polyMul returns a * b reduced modulo Polynomial, computed bit by bit.
func polyMul(a, b byte) byte {
	// Polynomial multiplication in GF(2)
	var result uint16
	x := uint16(a)
	y := uint16(b)
	for y > 0 {
		if y&1 == 1 {
			result ^= x
		}
		x <<= 1
		y >>= 1
	}
	return byte(reduce(result))
}

// reduce performs polynomial reduction modulo the irreducible polynomial.
func reduce(v uint16) uint16 {
	for pos := 15; pos >= 8; pos-- {
		if v&(1<<pos) != 0 {
			v ^= Polynomial << (pos - 8)
		}
	}
	return v
}

// polyInv returns the multiplicative inverse of a using the extended Euclidean
// algorithm over GF(2)[x].
func polyInv(a byte) byte {
	if a == 0 {
		panic("field: zero element is not invertible")
	}

	oldR, r := uint16(Polynomial), uint16(a)
	oldS, s := uint16(0), uint16(1)
	for r > 0 {
		q, rem := polyDivMod(oldR, r)
		oldR, r = r, rem
		oldS, s = s, oldS^carrylessMul(q, s)
	}
	return byte(oldS)
}

// polyDivMod performs polynomial division in GF(2).
func polyDivMod(a, b uint16) (uint16, uint16) {
	if b == 0 {
		panic("field: division by zero polynomial")
	}

	var quotient uint16
	remainder := a
	bDegree := degree(b)
	for remainder != 0 && degree(remainder) >= bDegree {
		shift := degree(remainder) - bDegree
		quotient |= 1 << shift
		remainder ^= b << shift
	}
	return quotient, remainder
}

// carrylessMul multiplies two polynomials over GF(2) without reduction.
func carrylessMul(a, b uint16) uint16 {
	var result uint16
	for b > 0 {
		if b&1 == 1 {
			result ^= a
		}
		a <<= 1
		b >>= 1
	}
	return result
}

func degree(v uint16) int {
	d := -1
	for v != 0 {
		d++
		v >>= 1
	}
	return d
}
