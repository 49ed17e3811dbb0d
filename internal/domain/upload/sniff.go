package upload

import "bytes"

// SniffBytes is how much of the payload head the container check needs.
const SniffBytes = 16

var (
	webmMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}
	oggMagic  = []byte("OggS")
	mp4Brand  = []byte("ftyp")
)

// SniffContainer inspects the leading bytes of a payload and returns the
// matching video MIME type, or "" when the head does not look like a
// supported container. MP4 carries its brand at offset 4, after the box size.
func SniffContainer(head []byte) string {
	if len(head) >= 8 && bytes.Equal(head[4:8], mp4Brand) {
		return "video/mp4"
	}
	if bytes.HasPrefix(head, webmMagic) {
		return "video/webm"
	}
	if bytes.HasPrefix(head, oggMagic) {
		return "video/ogg"
	}
	return ""
}
