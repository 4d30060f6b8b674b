package repositories

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so the same record always
// produces identical bytes on disk.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("repositories: CBOR encoder initialization failed: " + err.Error())
	}
}

func marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
