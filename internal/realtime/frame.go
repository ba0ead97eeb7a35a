package realtime

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// PacketState is the realtime packet state machine (spec.md §3, §4.10).
type PacketState string

// Recognized packet states.
const (
	StateFirst PacketState = "FIRST"
	StateMid   PacketState = "MID"
	StateLast  PacketState = "LAST"
)

// ParseFrame decodes the vr_realtime wire payload (spec.md §6.1):
//
//	call_id|CMD|raw-pcm-bytes
//
// where CMD is "FIRS" for FIRST, "LAST" for LAST, and anything else (commonly
// empty) means MID. call_id and CMD are each terminated by a literal "|".
func ParseFrame(raw []byte) (callID string, state PacketState, samples []int16, err error) {
	first := indexByte(raw, '|')
	if first < 0 {
		return "", "", nil, fmt.Errorf("realtime: frame missing call_id separator")
	}
	callID = string(raw[:first])
	rest := raw[first+1:]

	second := indexByte(rest, '|')
	if second < 0 {
		return "", "", nil, fmt.Errorf("realtime: frame missing cmd separator")
	}
	cmd := string(rest[:second])
	payload := rest[second+1:]

	switch cmd {
	case "FIRS":
		state = StateFirst
	case "LAST":
		state = StateLast
	default:
		state = StateMid
	}

	if len(payload)%2 != 0 {
		return "", "", nil, fmt.Errorf("realtime: odd-length PCM payload")
	}
	samples = make([]int16, len(payload)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
	}
	return callID, state, samples, nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// SpeakerHeader renders the JSON header line prepended to replies when
// speaker separation is enabled (spec.md §6.4).
func SpeakerHeader(node string) string {
	return fmt.Sprintf(`{"spk_flag":"true","spk_node":"%s"}`, strings.ReplaceAll(node, `"`, `\"`)) + "\n"
}
