package elfimage

import "bytes"

// fakePayload emits rodataSize bytes of 0xAA followed by textSize bytes of
// 0xBB, recording the code offset it was told so tests can assert on it.
type fakePayload struct {
	rodataSize, textSize int64
	codeOffset           uint64
}

func (p *fakePayload) SetCodeOffset(offset uint64) {
	p.codeOffset = offset
}

func (p *fakePayload) Write(sink RandomAccessSink) error {
	buf := bytes.Repeat([]byte{0xAA}, int(p.rodataSize))
	buf = append(buf, bytes.Repeat([]byte{0xBB}, int(p.textSize))...)
	return sink.WriteAll(buf)
}
