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


// Package kafka archives streamed interactions to Kafka and replays them
// back through an EventHandler.
package kafka

import (
	"io/ioutil"
	"log"

	"github.com/Shopify/sarama"
	"github.com/datasift/datasift-go"
	"github.com/pkg/errors"
)

// Sink is a datasift.EventHandler which publishes every interaction and
// deletion notice to a Kafka topic, keyed by stream hash.
type Sink struct {
	datasift.NopHandler

	Topic string

	producer sarama.SyncProducer
	codec    codec
	log      datasift.Logger
	stats    datasift.Statter
}

// SinkOption is a functional option type for Sink.
type SinkOption func(s *Sink) error

// OptSinkEncoding sets the message encoding, EncodingJSON (the default) or
// EncodingAvro.
func OptSinkEncoding(encoding string) SinkOption {
	return func(s *Sink) error {
		c, err := newCodec(encoding)
		s.codec = c
		return err
	}
}

func OptSinkLogger(l datasift.Logger) SinkOption {
	return func(s *Sink) error {
		s.log = l
		return nil
	}
}

func OptSinkStatter(stats datasift.Statter) SinkOption {
	return func(s *Sink) error {
		s.stats = stats
		return nil
	}
}

// NewSink gets a Sink which sends with producer.
func NewSink(producer sarama.SyncProducer, topic string, opts ...SinkOption) (*Sink, error) {
	if topic == "" {
		return nil, errors.Wrap(datasift.ErrInvalidData, "a topic is required")
	}
	s := &Sink{
		Topic:    topic,
		producer: producer,
		codec:    jsonCodec{},
		log:      datasift.NopLogger{},
		stats:    datasift.NopStatter{},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.Wrap(err, "applying option")
		}
	}
	return s, nil
}

// OpenSink connects a SyncProducer to hosts and returns a Sink using it.
// Close the Sink to close the producer.
func OpenSink(hosts []string, topic string, opts ...SinkOption) (*Sink, error) {
	sarama.Logger = log.New(ioutil.Discard, "", 0)
	conf := sarama.NewConfig()
	conf.Version = sarama.V0_10_0_0
	conf.Producer.Return.Successes = true
	conf.Producer.RequiredAcks = sarama.WaitForAll
	producer, err := sarama.NewSyncProducer(hosts, conf)
	if err != nil {
		return nil, errors.Wrap(err, "getting new producer")
	}
	s, err := NewSink(producer, topic, opts...)
	if err != nil {
		producer.Close()
		return nil, err
	}
	return s, nil
}

// OnInteraction implements datasift.EventHandler.
func (s *Sink) OnInteraction(c datasift.Consumer, interaction datasift.Interaction, hash string) {
	s.send(interaction, hash, false)
}

// OnDeleted implements datasift.EventHandler. Deletions are archived too,
// so that whatever reads the topic can honor them.
func (s *Sink) OnDeleted(c datasift.Consumer, interaction datasift.Interaction, hash string) {
	s.send(interaction, hash, true)
}

func (s *Sink) send(interaction datasift.Interaction, hash string, deleted bool) {
	value, err := s.codec.encode(hash, interaction, deleted)
	if err != nil {
		s.stats.Count("kafka.sink.error", 1, 1)
		s.log.Printf("encoding interaction %s: %v", interaction.ID(), err)
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: s.Topic,
		Key:   sarama.StringEncoder(hash),
		Value: sarama.ByteEncoder(value),
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		s.stats.Count("kafka.sink.error", 1, 1)
		s.log.Printf("sending interaction %s to %s: %v", interaction.ID(), s.Topic, err)
		return
	}
	s.stats.Count("kafka.sink.sent", 1, 1)
}

// Close closes the producer.
func (s *Sink) Close() error {
	return errors.Wrap(s.producer.Close(), "closing kafka producer")
}
