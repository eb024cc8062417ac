// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pqckeys.
//
// go-pqckeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package keycodec

var defaultCodec = New(nil)

// Default returns a codec with the default policy.
func Default() *Codec {
	return defaultCodec
}

// DeriveKey calls DeriveKey on the default codec.
func DeriveKey(password, salt []byte, iterations, outputBits int) ([]byte, error) {
	return defaultCodec.DeriveKey(password, salt, iterations, outputBits)
}

// Encrypt calls Encrypt on the default codec.
func Encrypt(plaintext, password []byte) ([]byte, error) {
	return defaultCodec.Encrypt(plaintext, password)
}

// Decrypt calls Decrypt on the default codec.
func Decrypt(blob, password []byte) ([]byte, error) {
	return defaultCodec.Decrypt(blob, password)
}

// HKDFExpand calls HKDFExpand on the default codec.
func HKDFExpand(ikm []byte, info string, n int) ([]byte, error) {
	return defaultCodec.HKDFExpand(ikm, info, n)
}
