package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// maxRun bounds a single decoded run so a malformed frame cannot force a
// huge allocation. The largest legal arena is far below this.
const maxRun = 1 << 24

// EncodeRLE encodes a row-major sequence of breed ids into
// base64(varint pairs). The pairs are (breed_id, run_len) repeated. Grids
// grow long single-breed runs as they approach absorption, so frames get
// cheaper exactly when runs get longer.
func EncodeRLE(cells []uint8) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(cells) {
		b := cells[i]
		run := 1
		for j := i + 1; j < len(cells) && cells[j] == b; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(b))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeRLE reverses EncodeRLE. Callers validate the decoded length against
// the grid they expect.
func DecodeRLE(b64 string) ([]uint8, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []uint8
	for i := 0; i < len(raw); {
		b, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if b > 0xFF {
			return nil, fmt.Errorf("breed id too large: %d", b)
		}
		if run == 0 || run > maxRun {
			return nil, fmt.Errorf("bad run length: %d", run)
		}
		for k := 0; k < int(run); k++ {
			out = append(out, uint8(b))
		}
	}
	return out, nil
}
