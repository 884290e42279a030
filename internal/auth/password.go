package auth

import "golang.org/x/crypto/bcrypt"

// HashSecret hashes a plaintext secret or password using bcrypt with
// DefaultCost. The cost keeps single verification in the tens of
// milliseconds to resist offline brute force of leaked hashes.
func HashSecret(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(b), err
}

// VerifySecret compares a bcrypt hash with a candidate plaintext.
func VerifySecret(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
