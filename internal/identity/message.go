package identity

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// Domain separates signed message kinds.
type Domain string

const (
	DomainHandshake   Domain = "driveledger:handshake:v1"
	DomainReceipt     Domain = "driveledger:receipt:v1"
	DomainMutableItem Domain = "driveledger:item:v1"
)

// Message frames a domain tag and its fields. Every part is length-prefixed
// so that field boundaries cannot be shifted between adjacent fields.
func Message(domain Domain, fields ...[]byte) []byte {
	size := 4 + len(domain)
	for _, f := range fields {
		size += 4 + len(f)
	}
	buf := make([]byte, 0, size)
	buf = appendPart(buf, []byte(domain))
	for _, f := range fields {
		buf = appendPart(buf, f)
	}
	return buf
}

// Digest is the SHA3-256 hash that is actually signed.
func Digest(msg []byte) [32]byte {
	return sha3.Sum256(msg)
}

func Uint64Field(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// MutableItemMessage builds the signed form of a DHT mutable item.
func MutableItemMessage(value []byte, seq int64, salt string) []byte {
	return Message(DomainMutableItem, value, Uint64Field(uint64(seq)), []byte(salt))
}

func appendPart(buf, part []byte) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(part)))
	buf = append(buf, l[:]...)
	return append(buf, part...)
}
