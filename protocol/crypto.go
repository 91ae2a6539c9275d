package protocol

import (
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	mrand "math/rand"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateID returns n random characters from a lowercase base36
// alphabet. Used for user ids, room ids, message ids and shared keys;
// kept short so datagrams stay inside the payload budget.
// If crypto/rand fails (rare on host), falls back to math/rand.
func GenerateID(n int) string {
	buf := make([]byte, n)
	if _, err := crand.Read(buf); err != nil {
		src := mrand.NewSource(time.Now().UnixNano())
		r := mrand.New(src)
		for i := range buf {
			buf[i] = byte(r.Intn(256))
		}
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(out)
}

// GenerateRoomKey returns a fresh shared obfuscation key.
func GenerateRoomKey() string { return GenerateID(4) }

// ObfuscateContent XORs content with the cycled ASCII bytes of key and
// returns lowercase hex. This is deliberate weak obfuscation, matching
// what legacy devices on the channel expect; see SealContent for the
// opt-in authenticated construction. An empty key returns content
// unchanged.
func ObfuscateContent(content, key string) string {
	if key == "" {
		return content
	}
	data := []byte(content)
	kb := []byte(key)
	for i := range data {
		data[i] ^= kb[i%len(kb)]
	}
	return hex.EncodeToString(data)
}

// DeobfuscateContent inverts ObfuscateContent. Returns ErrDecryptFailed
// when the hex is invalid or the key yields non-UTF-8 plaintext.
func DeobfuscateContent(content, key string) (string, error) {
	if key == "" {
		return "", ErrDecryptFailed
	}
	data, err := hex.DecodeString(content)
	if err != nil {
		return "", ErrDecryptFailed
	}
	kb := []byte(key)
	for i := range data {
		data[i] ^= kb[i%len(kb)]
	}
	if !utf8.Valid(data) {
		return "", ErrDecryptFailed
	}
	return string(data), nil
}

// deriveSealKey stretches a short shared room key into a 256-bit key.
func deriveSealKey(key string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, []byte(key), []byte("ultracomm.room"), nil)
	out := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SealContent protects content with ChaCha20-Poly1305 under a key derived
// from the shared room key and returns hex(nonce || ciphertext). Both
// peers must opt in by configuration; the frame format and the encrypted
// flag are unchanged, only the content transform differs. The hex-encoded
// nonce and tag alone take 56 characters, more than MaxPayloadSize, so a
// chat datagram carrying sealed content never fits one frame and
// EncodeDatagram refuses it with ErrPayloadTooLarge.
func SealContent(content, key string) (string, error) {
	sealKey, err := deriveSealKey(key)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.New(sealKey)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := crand.Read(nonce); err != nil {
		return "", err
	}
	ct := aead.Seal(nil, nonce, []byte(content), nil)
	return hex.EncodeToString(append(nonce, ct...)), nil
}

// OpenContent inverts SealContent. Any tampering or key mismatch yields
// ErrDecryptFailed.
func OpenContent(content, key string) (string, error) {
	raw, err := hex.DecodeString(content)
	if err != nil || len(raw) < chacha20poly1305.NonceSize {
		return "", ErrDecryptFailed
	}
	sealKey, err := deriveSealKey(key)
	if err != nil {
		return "", ErrDecryptFailed
	}
	aead, err := chacha20poly1305.New(sealKey)
	if err != nil {
		return "", ErrDecryptFailed
	}
	pt, err := aead.Open(nil, raw[:chacha20poly1305.NonceSize], raw[chacha20poly1305.NonceSize:], nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(pt), nil
}
