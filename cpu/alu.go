package cpu

// flags sets N, V, S and Z from a result. With zero_carry set, Z is only
// ever cleared, so a chain of sbc/cpc leaves Z set only if every byte of
// the multi-byte result was zero.
func (p *Processor) flags(data uint8, zero_carry bool, overflow bool) {
	if zero_carry {
		if data != 0 {
			p.SetFlag(FLAG_Z, false)
		}
	} else {
		p.SetFlag(FLAG_Z, data == 0)
	}
	n := (data & 0x80) != 0
	p.SetFlag(FLAG_N, n)
	p.SetFlag(FLAG_V, overflow)
	p.SetFlag(FLAG_S, n != overflow)
}

func bit(carry bool) uint16 {
	if carry {
		return 1
	}
	return 0
}

// addFlags adds with carry in, updating N, V, S and Z but not C or H.
// V is carry in xor carry out.
func (p *Processor) addFlags(a, b uint8, carry_in bool, zero_carry bool) (c uint8, carry_out bool) {
	sum := uint16(a) + uint16(b) + bit(carry_in)
	c = uint8(sum)
	carry_out = sum > 0xff
	p.flags(c, zero_carry, carry_in != carry_out)
	return
}

// subFlags subtracts with borrow in, updating N, V, S and Z but not C or H.
func (p *Processor) subFlags(a, b uint8, carry_in bool, zero_carry bool) (c uint8, carry_out bool) {
	diff := int(a) - int(b) - int(bit(carry_in))
	c = uint8(diff)
	carry_out = diff < 0
	p.flags(c, zero_carry, carry_in != carry_out)
	return
}

// Add adds with carry in, setting C, H, N, V, S and Z.
func (p *Processor) Add(a, b uint8, carry_in bool) (c uint8) {
	p.SetFlag(FLAG_H, uint16(a&0xf)+uint16(b&0xf)+bit(carry_in) > 0xf)
	c, carry_out := p.addFlags(a, b, carry_in, false)
	p.SetFlag(FLAG_C, carry_out)
	return
}

// Sub subtracts with borrow in, setting C, H, N, V, S and Z.
func (p *Processor) Sub(a, b uint8, carry_in bool, zero_carry bool) (c uint8) {
	p.SetFlag(FLAG_H, int(a&0xf)-int(b&0xf)-int(bit(carry_in)) < 0)
	c, carry_out := p.subFlags(a, b, carry_in, zero_carry)
	p.SetFlag(FLAG_C, carry_out)
	return
}

// shifted sets flags after a shift or rotate that moved out carry.
func (p *Processor) shifted(data uint8, carry bool) {
	p.SetFlag(FLAG_C, carry)
	p.flags(data, false, ((data&0x80) != 0) != carry)
}
