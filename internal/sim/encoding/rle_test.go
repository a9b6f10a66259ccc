package encoding

import (
	"encoding/base64"
	"testing"
)

func TestRLE_RoundTrip(t *testing.T) {
	in := make([]uint8, 0, 200)
	in = append(in, 1, 1, 1, 2, 2, 3)
	for i := 0; i < 50; i++ {
		in = append(in, 4)
	}
	in = append(in, 0, 2, 2, 2)

	enc := EncodeRLE(in)
	out, err := DecodeRLE(enc)
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}
}

func TestRLE_Empty(t *testing.T) {
	out, err := DecodeRLE(EncodeRLE(nil))
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("decoded %d cells from empty input", len(out))
	}
}

func TestRLE_RejectsMalformed(t *testing.T) {
	if _, err := DecodeRLE("!!!not-base64!!!"); err == nil {
		t.Fatalf("want error for invalid base64")
	}

	// A lone id with its run varint missing.
	truncated := base64.StdEncoding.EncodeToString([]byte{0x05})
	if _, err := DecodeRLE(truncated); err == nil {
		t.Fatalf("want error for truncated pair")
	}

	// Breed id beyond the uint8 cell range.
	big := base64.StdEncoding.EncodeToString([]byte{0x80, 0x02, 0x01}) // id 256, run 1
	if _, err := DecodeRLE(big); err == nil {
		t.Fatalf("want error for oversized breed id")
	}

	// Zero-length run is never emitted by the encoder.
	zeroRun := base64.StdEncoding.EncodeToString([]byte{0x01, 0x00})
	if _, err := DecodeRLE(zeroRun); err == nil {
		t.Fatalf("want error for zero run")
	}
}
