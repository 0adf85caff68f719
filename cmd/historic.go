package cmd

import (
	"io"
	"time"

	"github.com/datasift/datasift-go"
	"github.com/datasift/datasift-go/stream"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// HistoricMain holds the config for the historic command.
type HistoricMain struct {
	Common
	Sinks

	ID      string
	Hash    string
	Start   string
	End     string
	Name    string
	Sources []string
}

// NewHistoricCommand gets the historic command, which starts a historic
// query (preparing it first if no --id is given) and streams its results.
func NewHistoricCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	m := &HistoricMain{}
	com := &cobra.Command{
		Use:   "historic",
		Short: "historic - play back archived interactions",
		Long: `Start the prepared historic query named by --id and stream it to the
configured sinks. Without --id, a query over --start to --end is first
prepared for --hash.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return m.Run(stdout, stderr)
		},
	}
	flags := com.Flags()
	m.Common.addFlags(flags)
	m.Sinks.addFlags(flags)
	flags.StringVar(&m.ID, "id", "", "Playback id of a prepared historic query.")
	flags.StringVar(&m.Hash, "hash", "", "Stream hash of the definition to play back.")
	flags.StringVar(&m.Start, "start", "", "Start of the query (RFC 3339).")
	flags.StringVar(&m.End, "end", "", "End of the query (RFC 3339).")
	flags.StringVar(&m.Name, "name", "datasift-go", "Name of the prepared query.")
	flags.StringSliceVar(&m.Sources, "sources", []string{"twitter"}, "Data sources to play back.")
	return com
}

// Run prepares (if needed) and consumes the historic query.
func (m *HistoricMain) Run(stdout, stderr io.Writer) (err error) {
	if m.ID == "" && m.Hash == "" {
		return errors.New("either --id or --hash is required")
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
	client, err := m.client(u)
	if err != nil {
		return errors.Wrap(err, "creating api client")
	}
	historic := datasift.NewHistoric(m.ID, m.Hash, client)
	if m.ID == "" {
		start, end, err := m.window()
		if err != nil {
			return err
		}
		historic, err = client.HistoricsPrepare(m.Hash, start, end, m.Name, m.Sources)
		if err != nil {
			return errors.Wrap(err, "preparing historic")
		}
		m.log.Printf("prepared historic %s", historic.PlaybackID)
	}

	h, err := m.handler(&m.Common, stdout)
	if err != nil {
		return err
	}
	c, err := stream.NewConsumer(u, historic, h, stream.OptLogger(m.log), stream.OptStatter(m.stats))
	if err != nil {
		return errors.Wrap(err, "creating consumer")
	}
	ctx, cancel := interruptContext(m.log)
	defer cancel()
	return errors.Wrap(c.Consume(ctx, false), "consuming historic")
}

func (m *HistoricMain) window() (start, end time.Time, err error) {
	start, err = time.Parse(time.RFC3339, m.Start)
	if err != nil {
		return start, end, errors.Wrap(err, "parsing --start")
	}
	end, err = time.Parse(time.RFC3339, m.End)
	if err != nil {
		return start, end, errors.Wrap(err, "parsing --end")
	}
	return start, end, nil
}

func init() {
	subcommandFns["historic"] = NewHistoricCommand
}
