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


// Package s3 archives streamed interactions to S3 as newline delimited JSON
// and reads archives back.
package s3

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/datasift/datasift-go"
	"github.com/pkg/errors"
)

// Uploader is the part of s3manager.Uploader an Archiver uses.
type Uploader interface {
	Upload(input *s3manager.UploadInput, options ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// ArchiverOption is a functional option type for Archiver.
type ArchiverOption func(a *Archiver)

// OptArchiverBucket sets the bucket objects are written to.
func OptArchiverBucket(bucket string) ArchiverOption {
	return func(a *Archiver) {
		a.bucket = bucket
	}
}

// OptArchiverRegion sets the AWS region used when no Uploader is given.
func OptArchiverRegion(region string) ArchiverOption {
	return func(a *Archiver) {
		a.region = region
	}
}

// OptArchiverPrefix sets the key prefix objects are written under.
func OptArchiverPrefix(prefix string) ArchiverOption {
	return func(a *Archiver) {
		a.prefix = prefix
	}
}

// OptArchiverBatchSize sets how many frames are written to each object.
func OptArchiverBatchSize(n int) ArchiverOption {
	return func(a *Archiver) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// OptArchiverUploader replaces the s3manager.Uploader.
func OptArchiverUploader(u Uploader) ArchiverOption {
	return func(a *Archiver) {
		a.uploader = u
	}
}

func OptArchiverLogger(l datasift.Logger) ArchiverOption {
	return func(a *Archiver) {
		a.log = l
	}
}

// Archiver is a datasift.EventHandler which collects interactions and
// deletion notices into batches and uploads each batch as an S3 object. Each
// line of an object is a frame in the multi-stream format,
// {"hash": ..., "data": {...}}.
type Archiver struct {
	datasift.NopHandler

	bucket    string
	region    string
	prefix    string
	batchSize int
	uploader  Uploader
	log       datasift.Logger
	now       func() time.Time

	mu    sync.Mutex
	buf   bytes.Buffer
	count int
	seq   int
	err   error
}

// NewArchiver gets an Archiver with the options applied.
func NewArchiver(opts ...ArchiverOption) (*Archiver, error) {
	a := &Archiver{
		region:    "us-east-1",
		prefix:    "datasift",
		batchSize: 1000,
		log:       datasift.NopLogger{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.bucket == "" {
		return nil, errors.Wrap(datasift.ErrInvalidData, "a bucket is required")
	}
	if a.uploader == nil {
		sess, err := session.NewSession(&aws.Config{
			Region: aws.String(a.region)},
		)
		if err != nil {
			return nil, errors.Wrap(err, "getting new session")
		}
		a.uploader = s3manager.NewUploader(sess)
	}
	return a, nil
}

// OnInteraction implements datasift.EventHandler.
func (a *Archiver) OnInteraction(c datasift.Consumer, interaction datasift.Interaction, hash string) {
	a.add(hash, interaction)
}

// OnDeleted implements datasift.EventHandler.
func (a *Archiver) OnDeleted(c datasift.Consumer, interaction datasift.Interaction, hash string) {
	if !interaction.IsDeleted() {
		marked := make(datasift.Interaction, len(interaction)+1)
		for k, v := range interaction {
			marked[k] = v
		}
		marked["deleted"] = true
		interaction = marked
	}
	a.add(hash, interaction)
}

// OnStopped implements datasift.EventHandler by uploading whatever is
// buffered.
func (a *Archiver) OnStopped(c datasift.Consumer, reason string) {
	if err := a.Flush(); err != nil {
		a.log.Printf("flushing archive after stop: %v", err)
	}
}

func (a *Archiver) add(hash string, interaction datasift.Interaction) {
	line, err := json.Marshal(map[string]interface{}{"hash": hash, "data": interaction})
	if err != nil {
		a.log.Printf("marshaling interaction %s: %v", interaction.ID(), err)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf.Write(line)
	a.buf.WriteByte('\n')
	a.count++
	if a.count >= a.batchSize {
		if err := a.flush(); err != nil {
			a.log.Printf("uploading archive batch: %v", err)
		}
	}
}

// Flush uploads any buffered frames.
func (a *Archiver) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flush()
}

// Err returns the first upload error, if there has been one.
func (a *Archiver) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *Archiver) flush() error {
	if a.count == 0 {
		return nil
	}
	key := path.Join(a.prefix, fmt.Sprintf("%s-%06d.json", a.now().UTC().Format("20060102T150405Z"), a.seq))
	body := make([]byte, a.buf.Len())
	copy(body, a.buf.Bytes())
	_, err := a.uploader.Upload(&s3manager.UploadInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/x-ndjson"),
		Body:        bytes.NewReader(body),
	})
	if err != nil {
		err = errors.Wrapf(err, "uploading %s", key)
		if a.err == nil {
			a.err = err
		}
		return err
	}
	a.log.Debugf("archived %d frames to s3://%s/%s", a.count, a.bucket, key)
	a.seq++
	a.count = 0
	a.buf.Reset()
	return nil
}
