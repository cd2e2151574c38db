package tunnel

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/go-i2p/common/session_key"
	gocrypto "github.com/go-i2p/crypto/tunnel"
)

// HopRecordCipher is the delegated per-hop cryptographic primitive boundary:
// the AES layer cipher and the ElGamal/ECIES-X25519 handshake that produce
// it are out of scope here (spec.md §1); this package only ever talks to a
// primitive through this interface, never to raw key material directly.
type HopRecordCipher interface {
	Encrypt(data []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// newDataHopCipher builds the §4.4 data-message layer decryptor from a
// hop's tunnel-data layer/IV keys, delegating to go-i2p/crypto/tunnel's AES
// implementation. This is the only place go-i2p/crypto/tunnel is used — it operates on
// whole fixed-size tunnel-data payloads, one pass per hop, never on the
// small build-record slots below.
func newDataHopCipher(layerKey, ivKey session_key.SessionKey) (HopRecordCipher, error) {
	var tLayerKey, tIVKey gocrypto.TunnelKey
	copy(tLayerKey[:], layerKey[:])
	copy(tIVKey[:], ivKey[:])

	enc, err := gocrypto.NewAESEncryptor(tLayerKey, tIVKey)
	if err != nil {
		return nil, wrapf(err, "failed to construct data hop cipher")
	}
	return enc, nil
}

// recordStreamCipher is the build-record-slot stand-in for the real
// per-hop reply-key layering a remote hop applies to downstream records in
// flight (spec.md §4.1). The genuine mechanism is an ElGamal/ECIES-X25519
// asymmetric seal plus a chain of per-hop AES reply-key wraps, explicitly
// out of scope (spec.md §1); no library in this module's dependency set
// does bespoke arbitrary-length record framing without full asymmetric
// keypair material this build-planning layer does not model, so this
// narrow boundary uses a length-preserving AES-CTR keystream directly from
// the standard library, keyed by the hop's reply key/IV (the record-layer
// analogue of LayerKey/IVKey, which §4.4 reserves for tunnel-data).
type recordStreamCipher struct {
	block cipher.Block
	iv    [aes.BlockSize]byte
}

func newRecordStreamCipher(key session_key.SessionKey, iv [16]byte) (HopRecordCipher, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, wrapf(err, "failed to construct record stream cipher")
	}
	c := &recordStreamCipher{block: block}
	copy(c.iv[:], iv[:])
	return c, nil
}

// transform is its own inverse: AES-CTR keystream XOR applied twice with
// the same key and IV returns the original bytes.
func (c *recordStreamCipher) transform(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	stream := cipher.NewCTR(c.block, c.iv[:])
	stream.XORKeyStream(out, data)
	return out, nil
}

func (c *recordStreamCipher) Encrypt(data []byte) ([]byte, error) { return c.transform(data) }
func (c *recordStreamCipher) Decrypt(data []byte) ([]byte, error) { return c.transform(data) }
