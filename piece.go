package elfimage

import (
	"fmt"
	"sort"
)

// piece is one entry of the file-piece queue of spec §4.5: a file offset
// and a typed action. write seeks sink to offset and performs the action.
type piece struct {
	offset uint64
	write  func(sink RandomAccessSink) error
}

// pieceQueue accumulates pieces in any order and sorts them by offset
// before Write emits them, per spec §4.5's "not required to be ordered at
// construction."
type pieceQueue struct {
	pieces []piece
}

// addMemory registers a memory piece: data is written verbatim at offset.
func (q *pieceQueue) addMemory(offset uint64, data []byte) {
	q.pieces = append(q.pieces, piece{
		offset: offset,
		write: func(sink RandomAccessSink) error {
			if len(data) == 0 {
				return nil
			}
			if err := sink.WriteAll(data); err != nil {
				return fmt.Errorf("%w: %v", ErrSinkIO, err)
			}
			return nil
		},
	})
}

// addRodata registers the rodata piece: it invokes the code-payload
// callback's SetCodeOffset then Write, per spec §4.4.8. The .text piece
// itself is registered separately as a no-op placeholder — the
// contiguous payload write already covers its bytes.
func (q *pieceQueue) addRodata(offset uint64, payload CodePayloadWriter) {
	q.pieces = append(q.pieces, piece{
		offset: offset,
		write: func(sink RandomAccessSink) error {
			payload.SetCodeOffset(offset)
			if err := payload.Write(sink); err != nil {
				return fmt.Errorf("%w: %v", ErrPayloadWrite, err)
			}
			return nil
		},
	})
}

// addNoop registers a placeholder piece with no effect, used for .text's
// entry in the queue per spec §4.4.8.
func (q *pieceQueue) addNoop(offset uint64) {
	q.pieces = append(q.pieces, piece{
		offset: offset,
		write:  func(sink RandomAccessSink) error { return nil },
	})
}

// flush sorts the queue by offset and emits every piece in ascending
// order, seeking before each write.
func (q *pieceQueue) flush(sink RandomAccessSink) error {
	sort.SliceStable(q.pieces, func(i, j int) bool {
		return q.pieces[i].offset < q.pieces[j].offset
	})
	for _, p := range q.pieces {
		if err := sink.Seek(int64(p.offset)); err != nil {
			return fmt.Errorf("%w: %v", ErrSinkIO, err)
		}
		if err := p.write(sink); err != nil {
			return err
		}
	}
	return nil
}
