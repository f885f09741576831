package wire

import (
	"errors"
	"io"

	msgio "github.com/libp2p/go-msgio"

	"cybermesh/node/pkg/p2p/outbound"
	"cybermesh/node/pkg/utils"
)

// Writer frames payloads onto a stream with a 4-byte big-endian length
// prefix. It implements outbound.MessageWriter and, like every writer behind a
// connection's writer task, is used from a single goroutine.
type Writer struct {
	codec *Codec
	w     msgio.WriteCloser
}

var _ outbound.MessageWriter = (*Writer)(nil)

func NewWriter(w io.Writer, codec *Codec) *Writer {
	return &Writer{codec: codec, w: msgio.NewWriter(w)}
}

func (w *Writer) WriteMessage(p outbound.Payload) error {
	frame, err := w.codec.Marshal(p)
	if err != nil {
		return err
	}
	if err := w.w.WriteMsg(frame); err != nil {
		return utils.WrapErrorf(err, utils.CodeWriteFailure, "write %s frame", p.Kind())
	}
	return nil
}

// Close closes the underlying writer if it is an io.Closer.
func (w *Writer) Close() error {
	return w.w.Close()
}

// Reader is the inbound counterpart of Writer.
type Reader struct {
	codec *Codec
	r     msgio.ReadCloser
}

func NewReader(r io.Reader, codec *Codec) *Reader {
	return &Reader{codec: codec, r: msgio.NewReaderSize(r, codec.MaxFrameSize())}
}

// ReadMessage blocks for the next frame. It returns io.EOF once the remote
// side has closed the stream cleanly.
func (r *Reader) ReadMessage() (outbound.Payload, error) {
	frame, err := r.r.ReadMsg()
	if err != nil {
		if errors.Is(err, msgio.ErrMsgTooLarge) {
			return nil, utils.WrapError(err, utils.CodeFrameTooLarge, "inbound frame rejected")
		}
		return nil, err
	}
	defer r.r.ReleaseMsg(frame)
	return r.codec.Unmarshal(frame)
}

func (r *Reader) Close() error {
	return r.r.Close()
}
