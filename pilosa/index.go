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

// Package pilosa indexes streamed interactions into Pilosa, one column per
// interaction.
package pilosa

import (
	"io"
	"sync"
	"time"

	"github.com/datasift/datasift-go"
	gopilosa "github.com/pilosa/go-pilosa"
	"github.com/pkg/errors"
)

// Index imports columns and values into a Pilosa index. Each field gets its
// own importer goroutine, fed through a channel, which is started the first
// time the field is used.
type Index struct {
	client    *gopilosa.Client
	batchSize uint
	log       datasift.Logger

	lock        sync.RWMutex
	index       *gopilosa.Index
	importWG    sync.WaitGroup
	recordChans map[string]chanRecordIterator
}

var _ Indexer = &Index{}

// SetupIndex connects to Pilosa, creating indexName if it doesn't exist.
func SetupIndex(hosts []string, indexName string, batchSize uint, l datasift.Logger) (*Index, error) {
	if l == nil {
		l = datasift.NopLogger{}
	}
	client, err := gopilosa.NewClient(hosts,
		gopilosa.OptClientSocketTimeout(time.Minute*60),
		gopilosa.OptClientConnectTimeout(time.Second*60))
	if err != nil {
		return nil, errors.Wrap(err, "creating pilosa cluster client")
	}
	schema := gopilosa.NewSchema()
	i := &Index{
		client:      client,
		batchSize:   batchSize,
		log:         l,
		index:       schema.Index(indexName),
		recordChans: make(map[string]chanRecordIterator),
	}
	if err := client.SyncSchema(schema); err != nil {
		return nil, errors.Wrap(err, "synchronizing schema")
	}
	return i, nil
}

// AddColumn sets row (a key) for column col in field.
func (i *Index) AddColumn(field string, col uint64, row string) {
	i.addColumn(field, col, row, 0)
}

// AddColumnTimestamp is AddColumn for a time field.
func (i *Index) AddColumnTimestamp(field string, col uint64, row string, ts time.Time) {
	i.addColumn(field, col, row, ts.UnixNano())
}

func (i *Index) addColumn(fieldName string, col uint64, row string, ts int64) {
	fieldType := gopilosa.OptFieldTypeSet(gopilosa.CacheTypeRanked, 100000)
	if ts != 0 {
		fieldType = gopilosa.OptFieldTypeTime(gopilosa.TimeQuantumYearMonthDayHour)
	}
	c, err := i.recordChan(fieldName, fieldType, gopilosa.OptFieldKeys(true))
	if err != nil {
		i.log.Printf("setting up field '%s': %v", fieldName, err)
		return
	}
	c <- gopilosa.Column{ColumnID: col, RowKey: row, Timestamp: ts}
}

// AddValue sets an integer value for column col in field.
func (i *Index) AddValue(fieldName string, col uint64, val int64) {
	c, err := i.recordChan(fieldName, gopilosa.OptFieldTypeInt(0, 1<<62))
	if err != nil {
		i.log.Printf("setting up field '%s': %v", fieldName, err)
		return
	}
	c <- gopilosa.FieldValue{ColumnID: col, Value: val}
}

// recordChan gets the import channel for a field, creating the field if
// this is the first time it has been seen.
func (i *Index) recordChan(fieldName string, opts ...gopilosa.FieldOption) (chanRecordIterator, error) {
	i.lock.RLock()
	c, ok := i.recordChans[fieldName]
	i.lock.RUnlock()
	if ok {
		return c, nil
	}
	i.lock.Lock()
	defer i.lock.Unlock()
	if err := i.setupField(i.index.Field(fieldName, opts...)); err != nil {
		return nil, err
	}
	return i.recordChans[fieldName], nil
}

// setupField ensures the existence of a field in Pilosa, and starts an
// importer for it. Callers must hold i.lock.
func (i *Index) setupField(field *gopilosa.Field) error {
	fieldName := field.Name()
	if _, ok := i.recordChans[fieldName]; ok {
		return nil
	}
	err := i.client.EnsureField(field)
	if err != nil {
		return errors.Wrapf(err, "creating field '%v'", fieldName)
	}
	i.recordChans[fieldName] = newChanRecordIterator()
	i.importWG.Add(1)
	go func(fld *gopilosa.Field, cbi chanRecordIterator) {
		defer i.importWG.Done()
		err := i.client.ImportField(fld, cbi, gopilosa.OptImportBatchSize(int(i.batchSize)))
		if err != nil {
			i.log.Printf("importing field %v: %v", fieldName, err)
		}
	}(field, i.recordChans[fieldName])
	return nil
}

// Close waits for all imports to finish.
func (i *Index) Close() error {
	i.lock.Lock()
	for _, cbi := range i.recordChans {
		close(cbi)
	}
	i.recordChans = make(map[string]chanRecordIterator)
	i.lock.Unlock()
	i.importWG.Wait()
	return nil
}

type chanRecordIterator chan gopilosa.Record

func newChanRecordIterator() chanRecordIterator {
	return make(chan gopilosa.Record, 200000)
}

func (c chanRecordIterator) NextRecord() (gopilosa.Record, error) {
	b, ok := <-c
	if !ok {
		return b, io.EOF
	}
	return b, nil
}
