// Package datasift is a client for the DataSift social data platform. It
// contains the shared vocabulary used by every other package in this module:
// users, stream definitions, historic queries, the consumer lifecycle, and
// the event handler interface that receives what a stream delivers.
//
// Of principal importance is the consume journey. Interfaces live here, and
// implementations which rely on other software are in sub-packages.
//
// 1. Definition
//
//    A Definition is CSDL, the filter language DataSift compiles into a
//    stream hash. The hash is what a consumer actually connects to. Compiling
//    is done by a Compiler (see the rest package), and compiled hashes may be
//    remembered across runs by a HashCache (see the boltdb and leveldb
//    packages). A Historic is a playback of a past time range which streams
//    over the same protocol once it has been started.
//
// 2. Consumer
//
//    A Consumer holds the one connection to the streaming API and turns what
//    arrives on it into events. The stream package contains the HTTP
//    streaming consumer; the http package receives push deliveries and the
//    kafka package replays previously archived frames, and both present
//    themselves as Consumers too so that any handler works with any of them.
//
// 3. EventHandler
//
//    An EventHandler receives interactions, deletion notices, status
//    messages and the connect/disconnect/stop lifecycle. Handlers are called
//    synchronously, one at a time, in wire order. A slow handler slows the
//    stream down; it is the handler's job to hand work off if that matters.
//    The kafka, aws/s3 and pilosa packages contain handlers which forward
//    what they receive to those systems, and MultiHandler fans one stream out
//    to several of them.
package datasift
