package storage

// inlineSizeFunc computes how many of a payload's bytes stay inline on
// the cell's own page; the rest spills into an overflow chain. Table
// cells and index cells use different inline-size constants.
type inlineSizeFunc func(usable, payloadSize int) int

// spillPayload splits payload into its inline prefix and, if it
// doesn't fit entirely, writes the remainder to a fresh overflow
// chain.
func spillPayload(src PageSource, payload []byte, inlineSize inlineSizeFunc) (inline []byte, overflowPage uint32, err error) {
	n := inlineSize(src.Usable(), len(payload))
	if n >= len(payload) {
		return payload, 0, nil
	}
	op, err := writeOverflow(src, payload[n:])
	if err != nil {
		return nil, 0, err
	}
	return payload[:n], op, nil
}

// readPayload reassembles a full payload from a cell's inline bytes
// plus its overflow chain, if any.
func readPayload(src PageSource, inline []byte, overflowPage uint32, totalSize int64) ([]byte, error) {
	if overflowPage == 0 {
		return inline, nil
	}
	tail, err := readOverflow(src, overflowPage, int(totalSize)-len(inline))
	if err != nil {
		return nil, err
	}
	full := make([]byte, 0, len(inline)+len(tail))
	full = append(full, inline...)
	full = append(full, tail...)
	return full, nil
}
