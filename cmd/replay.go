package cmd

import (
	"io"

	"github.com/datasift/datasift-go/aws/s3"
	"github.com/datasift/datasift-go/kafka"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// ReplayMain holds the config for the replay command.
type ReplayMain struct {
	Common
	Sinks

	From string

	Hosts    []string
	Topics   []string
	Group    string
	Encoding string
	MaxMsgs  int

	Bucket string
	Region string
	Prefix string
}

// NewReplayCommand gets the replay command, which reads interactions back
// from a Kafka topic or an S3 archive.
func NewReplayCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	m := &ReplayMain{}
	com := &cobra.Command{
		Use:   "replay",
		Short: "replay - replay archived interactions",
		Long: `Read interactions archived by the Kafka or S3 sinks and send them to
the configured sinks as if they were being streamed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return m.Run(stdout, stderr)
		},
	}
	flags := com.Flags()
	m.Common.addFlags(flags)
	m.Sinks.addFlags(flags)
	flags.StringVar(&m.From, "from", "kafka", "Where to replay from: kafka or s3.")
	flags.StringSliceVar(&m.Hosts, "replay-hosts", []string{"localhost:9092"}, "Kafka cluster to replay from.")
	flags.StringSliceVar(&m.Topics, "topics", []string{"datasift"}, "Kafka topics to replay.")
	flags.StringVar(&m.Group, "group", "datasift-replay", "Kafka consumer group.")
	flags.StringVar(&m.Encoding, "encoding", kafka.EncodingJSON, "Encoding of the Kafka messages: json or avro.")
	flags.IntVar(&m.MaxMsgs, "max-msgs", 0, "Stop after this many Kafka messages. 0 means no limit.")
	flags.StringVar(&m.Bucket, "replay-bucket", "", "S3 bucket to replay from.")
	flags.StringVar(&m.Region, "replay-region", "us-east-1", "AWS region of the replay bucket.")
	flags.StringVar(&m.Prefix, "replay-prefix", "datasift", "Key prefix of the archive objects.")
	return com
}

// Run replays until the archive is exhausted or interrupted.
func (m *ReplayMain) Run(stdout, stderr io.Writer) (err error) {
	if err := m.setup(stderr); err != nil {
		return errors.Wrap(err, "setting up")
	}
	defer func() {
		if cerr := m.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	h, err := m.handler(&m.Common, stdout)
	if err != nil {
		return err
	}
	ctx, cancel := interruptContext(m.log)
	defer cancel()

	switch m.From {
	case "kafka":
		r := kafka.NewReplayer(h, m.log)
		r.Hosts = m.Hosts
		r.Topics = m.Topics
		r.Group = m.Group
		r.Encoding = m.Encoding
		r.MaxMsgs = m.MaxMsgs
		if err := r.Open(); err != nil {
			return errors.Wrap(err, "opening kafka replayer")
		}
		defer r.Close()
		return errors.Wrap(r.Consume(ctx), "replaying from kafka")
	case "s3":
		if m.Bucket == "" {
			return errors.New("--replay-bucket is required")
		}
		r, err := s3.NewReader(m.Region, m.Bucket, m.Prefix, h, m.log)
		if err != nil {
			return errors.Wrap(err, "creating s3 reader")
		}
		return errors.Wrap(r.Consume(ctx), "replaying from s3")
	default:
		return errors.Errorf("unknown replay source '%s'", m.From)
	}
}

func init() {
	subcommandFns["replay"] = NewReplayCommand
}
