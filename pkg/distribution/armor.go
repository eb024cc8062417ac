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

package distribution

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"

	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

const (
	ArmorTypePqcSignature = "PQC SIGNATURE PUBLIC KEY"
	ArmorTypePqcKem       = "PQC KEM PUBLIC KEY"

	// ArmorHeaderAlgorithm carries the algorithm name of an armored key.
	ArmorHeaderAlgorithm = "Algorithm"
)

// armorType returns the armor block type for kind.
func armorType(kind types.KeyKind) string {
	switch kind {
	case types.KeyKindPqcSignature:
		return ArmorTypePqcSignature
	case types.KeyKindPqcKem:
		return ArmorTypePqcKem
	default:
		return openpgp.PublicKeyType
	}
}

// EncodeArmor armors a public key for the given kind, recording the
// algorithm as an armor header.
func EncodeArmor(kind types.KeyKind, algorithm string, publicKey []byte) ([]byte, error) {
	var headers map[string]string
	if algorithm != "" {
		headers = map[string]string{ArmorHeaderAlgorithm: algorithm}
	}
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, armorType(kind), headers)
	if err != nil {
		return nil, fmt.Errorf("distribution: armor %s key: %w", kind, err)
	}
	if _, err := w.Write(publicKey); err != nil {
		return nil, fmt.Errorf("distribution: armor %s key: %w", kind, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("distribution: armor %s key: %w", kind, err)
	}
	return buf.Bytes(), nil
}

// DecodeArmor reverses EncodeArmor. Data that is not armored is decoded as
// bare base64; the algorithm is then empty.
func DecodeArmor(kind types.KeyKind, data []byte) (publicKey []byte, algorithm string, err error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, "", fmt.Errorf("%w: empty %s attachment", ErrMalformedPayload, kind)
	}

	if bytes.HasPrefix(trimmed, []byte("-----BEGIN ")) {
		block, err := armor.Decode(bytes.NewReader(trimmed))
		if err != nil {
			return nil, "", fmt.Errorf("%w: %s attachment: %v", ErrMalformedPayload, kind, err)
		}
		if block.Type != armorType(kind) {
			return nil, "", fmt.Errorf("%w: %s attachment has armor type %q",
				ErrMalformedPayload, kind, block.Type)
		}
		body, err := io.ReadAll(block.Body)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %s attachment: %v", ErrMalformedPayload, kind, err)
		}
		if len(body) == 0 {
			return nil, "", fmt.Errorf("%w: empty %s key", ErrMalformedPayload, kind)
		}
		return body, block.Header[ArmorHeaderAlgorithm], nil
	}

	compact := strings.Join(strings.Fields(string(trimmed)), "")
	body, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s attachment is neither armored nor base64", ErrMalformedPayload, kind)
	}
	if len(body) == 0 {
		return nil, "", fmt.Errorf("%w: empty %s key", ErrMalformedPayload, kind)
	}
	return body, "", nil
}
