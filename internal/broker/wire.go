// Package broker implements BrokerClient (spec.md §4.3) and the worker-side
// half of the same protocol, WorkerRuntime (spec.md §4.8). Wire transport is
// one persistent yamux session per peer (grounded on
// floegence-flowersec/flowersec-go/mux/yamux — reusing one TCP connection's
// multiplexed streams for concurrent in-flight submissions instead of
// dialing per-request), with each logical submission mapped to one yamux
// stream carrying a length-prefixed frame.
package broker

import (
	"encoding/binary"
	"fmt"
	"io"
)

// frame is the wire envelope for one submission or reply.
//
//	queueLen(2) corrIDLen(2) queue(queueLen) corrID(corrIDLen) payloadLen(4) payload(payloadLen)
type frame struct {
	Queue    string
	CorrID   string
	Payload  []byte
}

func writeFrame(w io.Writer, f frame) error {
	var header [4]byte
	binary.BigEndian.PutUint16(header[0:2], uint16(len(f.Queue)))
	binary.BigEndian.PutUint16(header[2:4], uint16(len(f.CorrID)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, f.Queue); err != nil {
		return err
	}
	if _, err := io.WriteString(w, f.CorrID); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f.Payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(f.Payload)
	return err
}

func readFrame(r io.Reader) (frame, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return frame{}, err
	}
	queueLen := binary.BigEndian.Uint16(header[0:2])
	corrLen := binary.BigEndian.Uint16(header[2:4])

	queue := make([]byte, queueLen)
	if _, err := io.ReadFull(r, queue); err != nil {
		return frame{}, err
	}
	corr := make([]byte, corrLen)
	if _, err := io.ReadFull(r, corr); err != nil {
		return frame{}, err
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return frame{}, err
	}
	payloadLen := binary.BigEndian.Uint32(lenBuf[:])
	if payloadLen > 64<<20 {
		return frame{}, fmt.Errorf("broker: frame payload too large: %d bytes", payloadLen)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return frame{}, err
	}
	return frame{Queue: string(queue), CorrID: string(corr), Payload: payload}, nil
}
