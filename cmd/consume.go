package cmd

import (
	"context"
	"io"

	"github.com/datasift/datasift-go"
	"github.com/datasift/datasift-go/stream"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ConsumeMain holds the config for the consume command.
type ConsumeMain struct {
	Common
	Cache
	Sinks

	CSDL        []string
	Hashes      []string
	Separate    bool
	NoReconnect bool
}

// NewConsumeCommand gets the consume command, which streams one or more
// definitions live.
func NewConsumeCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	m := &ConsumeMain{}
	com := &cobra.Command{
		Use:   "consume",
		Short: "consume - stream live interactions",
		Long: `Compile each --csdl definition (or take each --hash as is) and stream
the matching interactions to the configured sinks. Several streams share one
multi-stream connection unless --separate is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return m.Run(stdout, stderr)
		},
	}
	flags := com.Flags()
	m.Common.addFlags(flags)
	m.Cache.addFlags(flags)
	m.Sinks.addFlags(flags)
	flags.StringArrayVar(&m.CSDL, "csdl", nil, "CSDL definition to compile and consume. May be repeated.")
	flags.StringSliceVar(&m.Hashes, "hash", nil, "Stream hash to consume. May be repeated.")
	flags.BoolVar(&m.Separate, "separate", false, "Open one connection per stream.")
	flags.BoolVar(&m.NoReconnect, "no-reconnect", false, "Stop when the connection drops instead of reconnecting.")
	return com
}

// Run compiles the definitions and consumes until interrupted.
func (m *ConsumeMain) Run(stdout, stderr io.Writer) (err error) {
	if len(m.CSDL)+len(m.Hashes) == 0 {
		return errors.New("at least one --csdl or --hash is required")
	}
	if err := m.setup(stderr); err != nil {
		return errors.Wrap(err, "setting up")
	}
	defer func() {
		if cerr := m.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	u, err := m.user()
	if err != nil {
		return err
	}
	sources, err := m.sources(u)
	if err != nil {
		return err
	}
	h, err := m.handler(&m.Common, stdout)
	if err != nil {
		return err
	}
	ctx, cancel := interruptContext(m.log)
	defer cancel()

	opts := []stream.ConsumerOption{stream.OptLogger(m.log), stream.OptStatter(m.stats)}
	var consumers []*stream.Consumer
	if len(sources) == 1 || m.Separate {
		for _, src := range sources {
			c, err := stream.NewConsumer(u, src, h, opts...)
			if err != nil {
				return errors.Wrap(err, "creating consumer")
			}
			consumers = append(consumers, c)
		}
	} else {
		hashes := make([]string, len(sources))
		for i, src := range sources {
			if hashes[i], err = src.Hash(); err != nil {
				return errors.Wrap(err, "getting stream hash")
			}
		}
		c, err := stream.NewMultiConsumer(u, hashes, h, opts...)
		if err != nil {
			return errors.Wrap(err, "creating multi-stream consumer")
		}
		consumers = append(consumers, c)
	}
	return consumeAll(ctx, consumers, !m.NoReconnect)
}

// sources gets a stream.Source for every definition and hash.
func (m *ConsumeMain) sources(u *datasift.User) ([]stream.Source, error) {
	var sources []stream.Source
	if len(m.CSDL) > 0 {
		client, err := m.client(u)
		if err != nil {
			return nil, errors.Wrap(err, "creating api client")
		}
		cache, err := m.Cache.open()
		if err != nil {
			return nil, errors.Wrap(err, "opening hash cache")
		}
		var defOpts []datasift.DefinitionOption
		if cache != nil {
			m.closers = append(m.closers, cache.Close)
			defOpts = append(defOpts, datasift.OptDefinitionHashCache(cache))
		}
		for _, csdl := range m.CSDL {
			sources = append(sources, datasift.NewDefinition(csdl, client, defOpts...))
		}
	}
	for _, hash := range m.Hashes {
		sources = append(sources, stream.Hash(hash))
	}
	return sources, nil
}

// consumeAll runs each consumer on its own goroutine. The first failure
// stops the rest.
func consumeAll(ctx context.Context, consumers []*stream.Consumer, autoReconnect bool) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, c := range consumers {
		c := c
		eg.Go(func() error {
			return errors.Wrapf(c.Consume(ctx, autoReconnect), "consuming %v", c.Hashes())
		})
	}
	return eg.Wait()
}

func init() {
	subcommandFns["consume"] = NewConsumeCommand
}
