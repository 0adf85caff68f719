// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.


// Package leveldb provides a datasift.HashCache implementation using leveldb.
package leveldb

import (
	"os"
	"strings"

	"github.com/datasift/datasift-go"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

var _ datasift.HashCache = &HashCache{}

// HashCache is a datasift.HashCache which stores the two way CSDL/hash
// mapping in a pair of leveldbs under one directory.
type HashCache struct {
	dirname string
	hashes  *leveldb.DB
	csdl    *leveldb.DB
}

type errorList []error

func (errs errorList) Error() string {
	errstrings := make([]string, len(errs))
	for i, err := range errs {
		errstrings[i] = err.Error()
	}
	return strings.Join(errstrings, "; ")
}

// NewHashCache opens (creating if necessary) the cache under dirname.
func NewHashCache(dirname string) (*HashCache, error) {
	err := os.MkdirAll(dirname, 0700)
	if err != nil {
		return nil, errors.Wrap(err, "making directory")
	}
	c := &HashCache{dirname: dirname}
	c.hashes, err = leveldb.OpenFile(dirname+"/hashes", &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %v", dirname+"/hashes")
	}
	c.csdl, err = leveldb.OpenFile(dirname+"/csdl", &opt.Options{})
	if err != nil {
		c.hashes.Close()
		return nil, errors.Wrapf(err, "opening leveldb at %v", dirname+"/csdl")
	}
	return c, nil
}

// Get returns the hash previously stored for csdl.
func (c *HashCache) Get(csdl string) (hash string, ok bool, err error) {
	data, err := c.hashes.Get(datasift.CSDLKey(csdl), &opt.ReadOptions{})
	if err == leveldb.ErrNotFound {
		return "", false, nil
	} else if err != nil {
		return "", false, errors.Wrap(err, "reading hash")
	}
	return string(data), true, nil
}

// Put stores hash for csdl, replacing anything already there.
func (c *HashCache) Put(csdl, hash string) error {
	err := c.hashes.Put(datasift.CSDLKey(csdl), []byte(hash), &opt.WriteOptions{})
	if err != nil {
		return errors.Wrap(err, "putting hash")
	}
	err = c.csdl.Put([]byte(hash), []byte(csdl), &opt.WriteOptions{})
	return errors.Wrap(err, "putting csdl")
}

// CSDL returns the definition which compiled to hash, if it went through
// this cache.
func (c *HashCache) CSDL(hash string) (csdl string, ok bool, err error) {
	data, err := c.csdl.Get([]byte(hash), &opt.ReadOptions{})
	if err == leveldb.ErrNotFound {
		return "", false, nil
	} else if err != nil {
		return "", false, errors.Wrap(err, "reading csdl")
	}
	return string(data), true, nil
}

// Close closes both leveldbs.
func (c *HashCache) Close() error {
	errs := make(errorList, 0)
	if err := c.hashes.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "closing hashes"))
	}
	if err := c.csdl.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "closing csdl"))
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
