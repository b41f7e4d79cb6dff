package peers

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

// EncodeAddrs serializes an address set into the opaque byte form used as a
// DHT record value. The encoding is canonical CBOR, so equal address sets
// produce equal payloads.
func EncodeAddrs(addrs []Multiaddr) ([]byte, error) {
	b := new(bytes.Buffer)
	ch := new(codec.CborHandle)
	ch.Canonical = true
	enc := codec.NewEncoder(b, ch)

	if err := enc.Encode(addrs); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// DecodeAddrs deserializes a DHT record value back into an address set.
func DecodeAddrs(data []byte) ([]Multiaddr, error) {
	b := bytes.NewBuffer(data)
	ch := new(codec.CborHandle)
	ch.Canonical = true
	dec := codec.NewDecoder(b, ch)

	var addrs []Multiaddr
	if err := dec.Decode(&addrs); err != nil {
		return nil, err
	}

	return addrs, nil
}
