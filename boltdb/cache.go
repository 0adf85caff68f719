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


// Package boltdb provides a datasift.HashCache implementation using boltdb.
// It keeps the mapping in both directions, so the CSDL behind a hash can be
// recovered as well.
package boltdb

import (
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/datasift/datasift-go"
	"github.com/pkg/errors"
)

var (
	hashBucket = []byte("hashes")
	csdlBucket = []byte("csdl")
)

var _ datasift.HashCache = &HashCache{}

// HashCache is a datasift.HashCache which stores compiled hashes in boltdb,
// keyed by datasift.CSDLKey.
type HashCache struct {
	Db *bolt.DB

	closeOnce sync.Once
	closeErr  error
}

// NewHashCache opens (creating if necessary) the cache in filename.
func NewHashCache(filename string) (*HashCache, error) {
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening db file '%v'", filename)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(hashBucket); err != nil {
			return errors.Wrap(err, "creating hashes bucket")
		}
		if _, err := tx.CreateBucketIfNotExists(csdlBucket); err != nil {
			return errors.Wrap(err, "creating csdl bucket")
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ensuring bucket existence")
	}
	return &HashCache{Db: db}, nil
}

// Get returns the hash previously stored for csdl.
func (c *HashCache) Get(csdl string) (hash string, ok bool, err error) {
	err = c.Db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(hashBucket).Get(datasift.CSDLKey(csdl)); v != nil {
			hash, ok = string(v), true
		}
		return nil
	})
	return hash, ok, errors.Wrap(err, "reading hash")
}

// Put stores hash for csdl, replacing anything already there.
func (c *HashCache) Put(csdl, hash string) error {
	err := c.Db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(hashBucket).Put(datasift.CSDLKey(csdl), []byte(hash)); err != nil {
			return errors.Wrap(err, "putting hash")
		}
		return errors.Wrap(tx.Bucket(csdlBucket).Put([]byte(hash), []byte(csdl)), "putting csdl")
	})
	return errors.Wrap(err, "storing hash")
}

// CSDL returns the definition which compiled to hash, if it went through
// this cache.
func (c *HashCache) CSDL(hash string) (csdl string, ok bool, err error) {
	err = c.Db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(csdlBucket).Get([]byte(hash)); v != nil {
			csdl, ok = string(v), true
		}
		return nil
	})
	return csdl, ok, errors.Wrap(err, "reading csdl")
}

// Close syncs and closes the underlying boltdb. It is safe to call more than
// once.
func (c *HashCache) Close() error {
	c.closeOnce.Do(func() {
		if err := c.Db.Sync(); err != nil {
			c.closeErr = errors.Wrap(err, "syncing db")
			c.Db.Close()
			return
		}
		c.closeErr = c.Db.Close()
	})
	return c.closeErr
}
