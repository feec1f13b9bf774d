// Package codec is the binary encoding used for persisted sync state:
// queue snapshots, guest cart snapshots and migration markers.
//
// Encoding is deterministic CBOR so identical values produce identical
// bytes, which keeps store writes idempotent and lets tests compare blobs.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	enc := cbor.CoreDetEncOptions()
	// Timestamps keep nanoseconds; the core default is whole seconds.
	enc.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = enc.EncMode()
	if err != nil {
		panic("codec: cbor encoder: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: cbor decoder: " + err.Error())
	}
}

// Marshal encodes v as deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Diagnose renders data in CBOR diagnostic notation for debugging output.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
