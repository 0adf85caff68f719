package cmd

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/datasift/datasift-go"
	"github.com/datasift/datasift-go/aws/s3"
	"github.com/datasift/datasift-go/boltdb"
	"github.com/datasift/datasift-go/geohash"
	"github.com/datasift/datasift-go/kafka"
	"github.com/datasift/datasift-go/leveldb"
	"github.com/datasift/datasift-go/pilosa"
	"github.com/datasift/datasift-go/rest"
	"github.com/datasift/datasift-go/statsd"
	"github.com/datasift/datasift-go/termstat"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Common holds the account, logging and metrics configuration shared by
// every command.
type Common struct {
	Username   string
	APIKey     string
	APIHost    string
	StreamHost string
	NoSSL      bool
	Verbose    bool
	LogPath    string
	StatsdAddr string
	TermStats  bool

	log     datasift.Logger
	stats   datasift.Statter
	closers []func() error
}

func (c *Common) addFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&c.Username, "username", "u", "", "DataSift username.")
	flags.StringVarP(&c.APIKey, "api-key", "k", "", "DataSift API key.")
	flags.StringVar(&c.APIHost, "api-host", datasift.DefaultAPIHost, "Host for REST API calls.")
	flags.StringVar(&c.StreamHost, "stream-host", datasift.DefaultStreamHost, "Host for streaming connections.")
	flags.BoolVar(&c.NoSSL, "no-ssl", false, "Connect without TLS.")
	flags.BoolVarP(&c.Verbose, "verbose", "v", false, "Enable debug logging.")
	flags.StringVar(&c.LogPath, "log-path", "", "Log to this file instead of stderr.")
	flags.StringVar(&c.StatsdAddr, "statsd", "", "Send metrics to the statsd agent at this host:port.")
	flags.BoolVar(&c.TermStats, "term-stats", false, "Print metrics to stderr.")
}

func (c *Common) setup(stderr io.Writer) error {
	logOut := stderr
	if c.LogPath != "" {
		f, err := os.OpenFile(c.LogPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return errors.Wrap(err, "opening log file")
		}
		c.closers = append(c.closers, f.Close)
		logOut = f
	}
	if c.Verbose {
		c.log = datasift.VerboseLogger{Logger: log.New(logOut, "", log.LstdFlags)}
	} else {
		c.log = datasift.StdLogger{Logger: log.New(logOut, "", log.LstdFlags)}
	}

	switch {
	case c.StatsdAddr != "":
		s, err := statsd.NewStatter(c.StatsdAddr, "datasift.", c.log)
		if err != nil {
			return errors.Wrap(err, "setting up statsd")
		}
		c.closers = append(c.closers, s.Close)
		c.stats = s
	case c.TermStats:
		ts := termstat.NewCollector(stderr, 2*time.Second)
		c.closers = append(c.closers, func() error { ts.Stop(); return nil })
		c.stats = ts
	default:
		c.stats = datasift.NopStatter{}
	}
	return nil
}

func (c *Common) user() (*datasift.User, error) {
	u, err := datasift.NewUser(c.Username, c.APIKey)
	if err != nil {
		return nil, err
	}
	u.APIHost = c.APIHost
	u.StreamHost = c.StreamHost
	u.UseSSL = !c.NoSSL
	if Version != "" {
		u.UserAgent = datasift.DefaultUserAgent + " (cli " + Version + ")"
	}
	return u, nil
}

func (c *Common) client(u *datasift.User) (*rest.Client, error) {
	return rest.NewClient(u, rest.OptClientLogger(c.log))
}

// close runs every cleanup function, most recent first, and returns the
// first error.
func (c *Common) close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}

// Cache configures the persistent CSDL to hash cache.
type Cache struct {
	Path string
	Type string
}

func (c *Cache) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.Path, "cache-path", "", "Cache compiled hashes in this file (bolt) or directory (leveldb).")
	flags.StringVar(&c.Type, "cache-type", "bolt", "Hash cache backend: bolt or leveldb.")
}

func (c *Cache) open() (datasift.HashCache, error) {
	if c.Path == "" {
		return nil, nil
	}
	switch c.Type {
	case "bolt":
		return boltdb.NewHashCache(c.Path)
	case "leveldb":
		return leveldb.NewHashCache(c.Path)
	default:
		return nil, errors.Errorf("unknown cache type '%s'", c.Type)
	}
}

// Sinks configures where received interactions go.
type Sinks struct {
	Print bool

	KafkaHosts    []string
	KafkaTopic    string
	KafkaEncoding string

	S3Bucket    string
	S3Region    string
	S3Prefix    string
	S3BatchSize int

	PilosaHosts     []string
	PilosaIndex     string
	PilosaBatchSize uint

	Geohash       bool
	GeohashLength uint
}

func (s *Sinks) addFlags(flags *pflag.FlagSet) {
	flags.BoolVar(&s.Print, "print", true, "Print events to stdout as JSON lines.")
	flags.StringSliceVar(&s.KafkaHosts, "kafka-hosts", nil, "Publish interactions to this Kafka cluster.")
	flags.StringVar(&s.KafkaTopic, "kafka-topic", "datasift", "Kafka topic to publish to.")
	flags.StringVar(&s.KafkaEncoding, "kafka-encoding", kafka.EncodingJSON, "Kafka message encoding: json or avro.")
	flags.StringVar(&s.S3Bucket, "s3-bucket", "", "Archive interactions to this S3 bucket.")
	flags.StringVar(&s.S3Region, "s3-region", "us-east-1", "AWS region of the S3 bucket.")
	flags.StringVar(&s.S3Prefix, "s3-prefix", "datasift", "Key prefix for archive objects.")
	flags.IntVar(&s.S3BatchSize, "s3-batch-size", 1000, "Interactions per archive object.")
	flags.StringSliceVar(&s.PilosaHosts, "pilosa-hosts", nil, "Index interactions into this Pilosa cluster.")
	flags.StringVar(&s.PilosaIndex, "pilosa-index", "datasift", "Pilosa index to write to.")
	flags.UintVar(&s.PilosaBatchSize, "pilosa-batch-size", 10000, "Batch size for Pilosa imports.")
	flags.BoolVar(&s.Geohash, "geohash", false, "Add interaction.geohash to located interactions.")
	flags.UintVar(&s.GeohashLength, "geohash-length", 6, "Length of geohash cells.")
}

// handler builds the handler chain for the configured sinks. Anything which
// needs closing is registered with c.
func (s *Sinks) handler(c *Common, stdout io.Writer) (datasift.EventHandler, error) {
	var hs datasift.MultiHandler
	if s.Print {
		p := newPrinter(stdout, c.log)
		c.closers = append(c.closers, p.Err)
		hs = append(hs, p)
	}
	if len(s.KafkaHosts) > 0 {
		sink, err := kafka.OpenSink(s.KafkaHosts, s.KafkaTopic,
			kafka.OptSinkEncoding(s.KafkaEncoding),
			kafka.OptSinkLogger(c.log),
			kafka.OptSinkStatter(c.stats))
		if err != nil {
			return nil, errors.Wrap(err, "opening kafka sink")
		}
		c.closers = append(c.closers, sink.Close)
		hs = append(hs, sink)
	}
	if s.S3Bucket != "" {
		a, err := s3.NewArchiver(
			s3.OptArchiverBucket(s.S3Bucket),
			s3.OptArchiverRegion(s.S3Region),
			s3.OptArchiverPrefix(s.S3Prefix),
			s3.OptArchiverBatchSize(s.S3BatchSize),
			s3.OptArchiverLogger(c.log))
		if err != nil {
			return nil, errors.Wrap(err, "setting up s3 archiver")
		}
		c.closers = append(c.closers, a.Flush)
		hs = append(hs, a)
	}
	if len(s.PilosaHosts) > 0 {
		idx, err := pilosa.SetupIndex(s.PilosaHosts, s.PilosaIndex, s.PilosaBatchSize, c.log)
		if err != nil {
			return nil, errors.Wrap(err, "setting up pilosa")
		}
		ph := pilosa.NewHandler(idx, nil, c.log)
		ph.Precision = s.GeohashLength
		c.closers = append(c.closers, ph.Close)
		hs = append(hs, ph)
	}
	if len(hs) == 0 {
		c.log.Printf("no sinks configured, interactions will be dropped")
	}
	var h datasift.EventHandler = hs
	if s.Geohash {
		h = geohash.NewTransformer(h, s.GeohashLength)
	}
	return datasift.NewStatsHandler(h, c.stats), nil
}

// interruptContext is cancelled on SIGINT.
func interruptContext(l datasift.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)
	go func() {
		select {
		case <-signals:
			l.Printf("interrupted, stopping")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(signals)
		cancel()
	}
}
