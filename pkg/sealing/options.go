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

package sealing

import (
	"fmt"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
)

// OptionFunc holds a function with local options
type OptionFunc func(*options) error

type options struct {
	*wrapping.Options
	withKeyName    string
	withPassphrase []byte
	withMemoryKiB  uint32
	withTime       uint32
}

func getOpts(opt ...wrapping.Option) (*options, error) {
	opts := options{}
	var wrappingOptions []wrapping.Option
	var localOptions []OptionFunc
	for _, o := range opt {
		if o == nil {
			continue
		}
		switch to := o().(type) {
		case wrapping.OptionFunc:
			wrappingOptions = append(wrappingOptions, o)
		case OptionFunc:
			localOptions = append(localOptions, to)
		}
	}

	var err error
	opts.Options, err = wrapping.GetOpts(wrappingOptions...)
	if err != nil {
		return nil, err
	}
	if opts.Options == nil {
		opts.Options = new(wrapping.Options)
	}
	if opts.WithConfigMap != nil {
		return nil, fmt.Errorf("WithConfigMap not supported")
	}

	for _, o := range localOptions {
		if err := o(&opts); err != nil {
			return nil, err
		}
	}
	return &opts, nil
}

// WithKeyName sets the key ID recorded in sealed blobs.
func WithKeyName(with string) wrapping.Option {
	return func() interface{} {
		return OptionFunc(func(o *options) error {
			o.withKeyName = with
			return nil
		})
	}
}

// WithPassphrase sets the passphrase the key-encryption key is derived from.
func WithPassphrase(with []byte) wrapping.Option {
	return func() interface{} {
		return OptionFunc(func(o *options) error {
			if len(with) == 0 {
				return ErrEmptyPassphrase
			}
			o.withPassphrase = append([]byte(nil), with...)
			return nil
		})
	}
}

// WithArgon2Cost overrides the Argon2id memory (KiB) and time cost.
func WithArgon2Cost(memoryKiB, time uint32) wrapping.Option {
	return func() interface{} {
		return OptionFunc(func(o *options) error {
			o.withMemoryKiB = memoryKiB
			o.withTime = time
			return nil
		})
	}
}
