package audio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"

	"github.com/interview-voice-lab/internal/logging"
)

// MaxPacketSize bounds one length-prefixed Opus packet.
const MaxPacketSize = 4000

// ReadPackets streams length-prefixed packets from r. Each packet is a
// big endian uint16 length followed by that many bytes. The returned
// channel is closed on EOF, read error or ctx cancellation.
func ReadPackets(ctx context.Context, r io.Reader) <-chan []byte {
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		br := bufio.NewReader(r)
		var hdr [2]byte
		for {
			if _, err := io.ReadFull(br, hdr[:]); err != nil {
				if !errors.Is(err, io.EOF) {
					logging.Warnw("audio: packet header read failed", "err", err)
				}
				return
			}
			n := int(binary.BigEndian.Uint16(hdr[:]))
			if n == 0 || n > MaxPacketSize {
				logging.Warnw("audio: invalid packet length", "len", n)
				return
			}
			pkt := make([]byte, n)
			if _, err := io.ReadFull(br, pkt); err != nil {
				logging.Warnw("audio: packet body read failed", "err", err, "len", n)
				return
			}
			select {
			case out <- pkt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
