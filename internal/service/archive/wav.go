package archive

import (
	"bytes"
	"encoding/binary"

	speechmodel "github.com/moodwheel/agent/backend/internal/model/speech"
)

// wavHeaderSize is the standard 44-byte RIFF/WAVE header.
const wavHeaderSize = 44

// WAVFromPCM wraps raw PCM16LE samples in a RIFF/WAVE container using
// the capture format of the probing session.
func WAVFromPCM(pcm []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))

	sampleRate := uint32(speechmodel.SampleRate)
	channels := uint16(speechmodel.ChannelCount)
	bitsPerSample := uint16(speechmodel.SampleBits)
	byteRate := sampleRate * uint32(channels) * uint32(bitsPerSample) / 8
	blockAlign := channels * bitsPerSample / 8

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, channels)
	binary.Write(&buf, binary.LittleEndian, sampleRate)
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, bitsPerSample)

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
