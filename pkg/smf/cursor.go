package smf

// Cursor is a bounds-checked reader over an immutable byte slice. Every read
// validates the remaining length and advances an explicit offset, so malformed
// input surfaces as a TruncatedInputError instead of an out-of-range panic.
type Cursor struct {
	data []byte
	pos  int
}

// NewCursor returns a cursor positioned at the start of data.
func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Pos returns the current offset from the start of the underlying slice.
func (c *Cursor) Pos() int { return c.pos }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.data) - c.pos }

// ReadByte consumes and returns one byte.
func (c *Cursor) ReadByte() (byte, error) {
	if c.pos >= len(c.data) {
		return 0, &TruncatedInputError{Offset: c.pos, Want: 1}
	}
	b := c.data[c.pos]
	c.pos++
	return b, nil
}

// Peek returns the next byte without consuming it.
func (c *Cursor) Peek() (byte, error) {
	if c.pos >= len(c.data) {
		return 0, &TruncatedInputError{Offset: c.pos, Want: 1}
	}
	return c.data[c.pos], nil
}

// ReadUint16 consumes a big-endian 16-bit value.
func (c *Cursor) ReadUint16() (uint16, error) {
	if c.Remaining() < 2 {
		return 0, &TruncatedInputError{Offset: c.pos, Want: 2 - c.Remaining()}
	}
	v := uint16(c.data[c.pos])<<8 | uint16(c.data[c.pos+1])
	c.pos += 2
	return v, nil
}

// ReadUint24 consumes a big-endian 24-bit value (tempo payloads).
func (c *Cursor) ReadUint24() (uint32, error) {
	if c.Remaining() < 3 {
		return 0, &TruncatedInputError{Offset: c.pos, Want: 3 - c.Remaining()}
	}
	v := uint32(c.data[c.pos])<<16 | uint32(c.data[c.pos+1])<<8 | uint32(c.data[c.pos+2])
	c.pos += 3
	return v, nil
}

// ReadUint32 consumes a big-endian 32-bit value (chunk lengths).
func (c *Cursor) ReadUint32() (uint32, error) {
	if c.Remaining() < 4 {
		return 0, &TruncatedInputError{Offset: c.pos, Want: 4 - c.Remaining()}
	}
	v := uint32(c.data[c.pos])<<24 | uint32(c.data[c.pos+1])<<16 |
		uint32(c.data[c.pos+2])<<8 | uint32(c.data[c.pos+3])
	c.pos += 4
	return v, nil
}

// Bytes consumes n bytes and returns them as a subslice of the input.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if n < 0 || c.Remaining() < n {
		return nil, &TruncatedInputError{Offset: c.pos, Want: n - c.Remaining()}
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Skip advances past n bytes without reading them.
func (c *Cursor) Skip(n int) error {
	if n < 0 || c.Remaining() < n {
		return &TruncatedInputError{Offset: c.pos, Want: n - c.Remaining()}
	}
	c.pos += n
	return nil
}

// maxVLQBytes bounds a variable-length quantity. SMF delta times are at most
// four bytes, but length fields of 5 bytes (35 significant bits) appear in
// the wild; anything longer is treated as corruption.
const maxVLQBytes = 5

// ReadVLQ decodes a variable-length quantity: seven significant bits per
// byte, most significant group first, bit 7 set on every byte except the
// last. The cursor ends up exactly past the terminating byte.
func (c *Cursor) ReadVLQ() (uint32, error) {
	var v uint32
	for i := 0; i < maxVLQBytes; i++ {
		b, err := c.ReadByte()
		if err != nil {
			return 0, err
		}
		v = v<<7 | uint32(b&0x7F)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, &FormatError{Offset: c.pos, Detail: "variable-length quantity longer than 5 bytes"}
}

// AppendVLQ encodes v in variable-length form and appends it to dst.
// Used by tests and kept next to the decoder so the two stay in sync.
func AppendVLQ(dst []byte, v uint64) []byte {
	var tmp [10]byte
	i := len(tmp)
	i--
	tmp[i] = byte(v & 0x7F)
	for v >>= 7; v > 0; v >>= 7 {
		i--
		tmp[i] = byte(v&0x7F) | 0x80
	}
	return append(dst, tmp[i:]...)
}
