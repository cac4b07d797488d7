package protocol

import (
	"crypto/sha1"
	"crypto/subtle"
)

// AuthPolicy decides whether a client's scramble-derived response proves
// it knows the right password for username. Replaceable per spec §6
// ("Replaceable through a policy hook that takes (username, scramble,
// client-response) and returns boolean").
type AuthPolicy interface {
	Authenticate(username string, scramble [ScrambleLength]byte, clientResponse []byte) bool
}

// DefaultAuthPolicy is the stub scheme spec §6 describes: the reference
// password is the username itself, checked with the mysql_native_password
// scramble algorithm.
type DefaultAuthPolicy struct{}

// Authenticate implements AuthPolicy.
func (DefaultAuthPolicy) Authenticate(username string, scramble [ScrambleLength]byte, clientResponse []byte) bool {
	expected := NativePasswordToken(username, scramble)
	if len(clientResponse) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare(expected, clientResponse) == 1
}

// NativePasswordToken computes the mysql_native_password scramble response
// a client holding `password` would send for the given challenge:
//
//	SHA1(password) XOR SHA1(scramble || SHA1(SHA1(password)))
func NativePasswordToken(password string, scramble [ScrambleLength]byte) []byte {
	stage1 := sha1.Sum([]byte(password))
	stage2 := sha1.Sum(stage1[:])

	h := sha1.New()
	h.Write(scramble[:])
	h.Write(stage2[:])
	mixed := h.Sum(nil)

	token := make([]byte, len(stage1))
	for i := range token {
		token[i] = stage1[i] ^ mixed[i]
	}
	return token
}
