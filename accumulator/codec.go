package accumulator

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/arloliu/sharedtrain/types"
)

// bytesPerComponent is the encoded size of one significant component.
const bytesPerComponent = 4

// CountSignificant returns the number of components of residual whose
// magnitude is at least threshold.
func CountSignificant(residual []float32, threshold float32) int {
	n := 0
	for _, v := range residual {
		if abs32(v) >= threshold {
			n++
		}
	}

	return n
}

// Encode extracts every significant component of residual into a message and
// subtracts the transmitted step from residual in place.
//
// Each component is written as a little-endian int32 holding index+1, negated
// for negative updates, so index 0 keeps its sign.
//
// Parameters:
//   - residual: Dense residual, modified in place
//   - threshold: Step size, must be > 0
//   - sequence: Sequence number stamped on the message
//
// Returns:
//   - *types.EncodedGradientMessage: Message with checksum set, NodeID empty
func Encode(residual []float32, threshold float32, sequence uint64) *types.EncodedGradientMessage {
	payload := make([]byte, 0, CountSignificant(residual, threshold)*bytesPerComponent)

	for i, v := range residual {
		var code int32
		switch {
		case v >= threshold:
			code = int32(i + 1) //nolint:gosec // gradient length is bounded by the buffer budget
			residual[i] = v - threshold
		case v <= -threshold:
			code = -int32(i + 1) //nolint:gosec // see above
			residual[i] = v + threshold
		default:
			continue
		}
		payload = binary.LittleEndian.AppendUint32(payload, uint32(code)) //nolint:gosec // sign is encoded in two's complement
	}

	msg := &types.EncodedGradientMessage{
		Sequence:  sequence,
		Threshold: threshold,
		Length:    len(residual),
		Payload:   payload,
	}
	msg.Checksum = msg.ComputeChecksum()

	return msg
}

// Decode adds the update carried by msg to target.
//
// Returns:
//   - error: types.ErrShapeMismatch when the lengths differ or an index is out of range
func Decode(msg *types.EncodedGradientMessage, target []float32) error {
	if msg.Length != len(target) {
		return fmt.Errorf("%w: message length %d, target length %d", types.ErrShapeMismatch, msg.Length, len(target))
	}

	for off := 0; off+bytesPerComponent <= len(msg.Payload); off += bytesPerComponent {
		code := int32(binary.LittleEndian.Uint32(msg.Payload[off:])) //nolint:gosec // two's complement round trip
		step := msg.Threshold
		if code < 0 {
			code = -code
			step = -step
		}
		idx := int(code) - 1
		if idx < 0 || idx >= len(target) {
			return fmt.Errorf("%w: index %d out of range [0,%d)", types.ErrShapeMismatch, idx, len(target))
		}
		target[idx] += step
	}

	return nil
}

func abs32(v float32) float32 {
	return float32(math.Abs(float64(v)))
}
