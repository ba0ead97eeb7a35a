// Package wave classifies an incoming byte blob per spec.md §6.3 (bit-exact
// magic-byte detection) and strips the standard 44-byte WAV header when
// present. Classification is deterministic and idempotent, per the testable
// property in spec.md §8.
package wave

import "encoding/binary"

// Kind is the WAVEDescriptor classification (spec.md §3).
type Kind string

// Recognized classifications.
const (
	KindStandardWave Kind = "standard_wave" // mono 8kHz 16-bit RIFF/WAVE
	KindWave         Kind = "wave"          // other RIFF/WAVE
	KindWave2Ch      Kind = "wave_2ch"      // stereo RIFF/WAVE
	KindMPEG         Kind = "mpeg"          // mono MPEG audio frame
	KindMPEGID3      Kind = "mpeg_id3"      // MPEG with leading ID3 tag
	KindMPEG2Ch      Kind = "mpeg_2ch"      // stereo MPEG audio frame
	KindUnknown      Kind = "unknown"       // treated as raw PCM
)

// mpegVersionBits and mpegLayerBits decode an MPEG frame header's version and
// layer fields, included verbatim per spec.md §6.3's instruction to keep the
// standard MPEG-1/2/2.5 tables in the implementation.
var mpegVersionBits = map[byte]string{
	0b00: "MPEG2.5",
	0b10: "MPEG2",
	0b11: "MPEG1",
}

var mpegLayerBits = map[byte]string{
	0b01: "LayerIII",
	0b10: "LayerII",
	0b11: "LayerI",
}

// Classify inspects the first bytes of data and returns its WAVEDescriptor.
func Classify(data []byte) Kind {
	if len(data) < 4 {
		return KindUnknown
	}
	if string(data[:3]) == "ID3" {
		return KindMPEGID3
	}
	if string(data[:4]) == "RIFF" {
		return classifyRIFF(data)
	}
	if data[0] == 0xFF && data[1]&0xE0 == 0xE0 {
		return classifyMPEGFrame(data)
	}
	return KindUnknown
}

func classifyRIFF(data []byte) Kind {
	if len(data) < 36 || string(data[8:12]) != "WAVE" || string(data[12:15]) != "fmt" {
		return KindWave
	}
	channels := binary.LittleEndian.Uint16(data[22:24])
	sampleRate := binary.LittleEndian.Uint32(data[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(data[34:36])
	switch {
	case channels == 1 && sampleRate == 8000 && bitsPerSample == 16:
		return KindStandardWave
	case channels == 2:
		return KindWave2Ch
	default:
		return KindWave
	}
}

func classifyMPEGFrame(data []byte) Kind {
	versionBits := (data[1] >> 3) & 0b11
	layerBits := (data[1] >> 1) & 0b11
	if _, ok := mpegVersionBits[versionBits]; !ok {
		return KindUnknown
	}
	if _, ok := mpegLayerBits[layerBits]; !ok {
		return KindUnknown
	}
	if len(data) < 4 {
		return KindMPEG
	}
	channelMode := (data[3] >> 6) & 0b11
	if channelMode == 0b11 {
		return KindMPEG // single channel mode
	}
	return KindMPEG2Ch
}

// StripStandardHeader removes the 44-byte canonical WAV header from data
// classified as KindStandardWave. Callers must only call this after
// confirming the classification.
func StripStandardHeader(data []byte) []byte {
	const headerLen = 44
	if len(data) <= headerLen {
		return nil
	}
	return data[headerLen:]
}

// mpegBitrateKbps holds the standard MPEG bitrate tables (kbps), keyed by
// "version-layer" and indexed by the 4-bit bitrate field of the frame header.
// Kept verbatim per spec.md §6.3.
var mpegBitrateKbps = map[string][16]int{
	"MPEG1-LayerI":    {0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448, -1},
	"MPEG1-LayerII":   {0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, -1},
	"MPEG1-LayerIII":  {0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, -1},
	"MPEG2-LayerI":    {0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256, -1},
	"MPEG2-LayerII":   {0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, -1},
	"MPEG2-LayerIII":  {0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, -1},
}

var mpegSampleRateHz = map[string][3]int{
	"MPEG1":   {44100, 48000, 32000},
	"MPEG2":   {22050, 24000, 16000},
	"MPEG2.5": {11025, 12000, 8000},
}

// BitrateKbps looks up the MPEG bitrate for a given version/layer/index
// combination. Index 0 ("free" bitrate) yields 0; the reserved index 15, an
// out-of-range index, or an unknown version/layer key yields -1.
func BitrateKbps(version, layer string, index int) int {
	if index < 0 || index > 15 {
		return -1
	}
	table, ok := mpegBitrateKbps[version+"-"+layer]
	if !ok {
		return -1
	}
	return table[index]
}

// SampleRateHz looks up the MPEG sample rate for a given version/index pair.
func SampleRateHz(version string, index int) int {
	if index < 0 || index > 2 {
		return -1
	}
	table, ok := mpegSampleRateHz[version]
	if !ok {
		return -1
	}
	return table[index]
}
