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

// Package geohash computes geohash cells for located interactions.
package geohash

import (
	"github.com/datasift/datasift-go"
	"github.com/mmcloughlin/geohash"
)

// DefaultKey is where Transformer stores the cell in the interaction
// namespace.
const DefaultKey = "geohash"

// Cell returns the geohash of the interaction's location, precision
// characters long. ok is false if the interaction has no location.
func Cell(i datasift.Interaction, precision uint) (cell string, ok bool) {
	lat, lon, ok := i.Geo()
	if !ok {
		return "", false
	}
	return geohash.EncodeWithPrecision(lat, lon, precision), true
}

// Transformer is a datasift.EventHandler which adds the geohash cell of each
// located interaction to its interaction namespace before passing it on.
// The interaction seen by the wrapped handler is a copy.
type Transformer struct {
	datasift.EventHandler
	Precision uint
	Key       string
}

// NewTransformer wraps h.
func NewTransformer(h datasift.EventHandler, precision uint) *Transformer {
	return &Transformer{
		EventHandler: h,
		Precision:    precision,
		Key:          DefaultKey,
	}
}

// OnInteraction implements datasift.EventHandler.
func (t *Transformer) OnInteraction(c datasift.Consumer, interaction datasift.Interaction, hash string) {
	t.EventHandler.OnInteraction(c, t.transform(interaction), hash)
}

func (t *Transformer) transform(interaction datasift.Interaction) datasift.Interaction {
	cell, ok := Cell(interaction, t.Precision)
	if !ok {
		return interaction
	}
	ns := interaction["interaction"].(map[string]interface{})
	nsCopy := make(map[string]interface{}, len(ns)+1)
	for k, v := range ns {
		nsCopy[k] = v
	}
	nsCopy[t.Key] = cell

	ret := make(datasift.Interaction, len(interaction))
	for k, v := range interaction {
		ret[k] = v
	}
	ret["interaction"] = nsCopy
	return ret
}
