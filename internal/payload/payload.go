// Package payload fabricates synthetic message bodies.
package payload

import "bytes"

// MaxSizeKB bounds a single fabricated payload. Together with a key and the
// load headers it must fit in one Kafka produce batch (broker.MaxMessageBytes,
// also the broker's default message.max.bytes).
const MaxSizeKB = 1000

// Fill returns sizeKB kilobytes of 'a'. Non-positive sizes yield an empty
// payload; callers validate against MaxSizeKB first.
func Fill(sizeKB int) []byte {
	if sizeKB <= 0 {
		return []byte{}
	}
	return bytes.Repeat([]byte{'a'}, sizeKB*1024)
}
