package cmd

import (
	"io"
	"time"

	"github.com/datasift/datasift-go/http"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// PushMain holds the config for the push command.
type PushMain struct {
	Common
	Sinks

	Bind      string
	Path      string
	AccessLog bool
}

// NewPushCommand gets the push command, which receives push deliveries.
func NewPushCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	m := &PushMain{}
	com := &cobra.Command{
		Use:   "push",
		Short: "push - receive push deliveries",
		Long: `Listen for DataSift push deliveries over HTTP and send the
interactions they carry to the configured sinks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return m.Run(stdout, stderr)
		},
	}
	flags := com.Flags()
	m.Common.addFlags(flags)
	m.Sinks.addFlags(flags)
	flags.StringVar(&m.Bind, "bind", ":8080", "Listen for push deliveries on this address.")
	flags.StringVar(&m.Path, "path", "/push", "Path deliveries are posted to.")
	flags.BoolVar(&m.AccessLog, "access-log", false, "Write an access log to stderr.")
	return com
}

// Run receives deliveries until interrupted.
func (m *PushMain) Run(stdout, stderr io.Writer) (err error) {
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

	opts := []http.ReceiverOption{
		http.OptReceiverAddr(m.Bind),
		http.OptReceiverPath(m.Path),
		http.OptReceiverLogger(m.log),
		http.OptReceiverStatter(m.stats),
	}
	if m.AccessLog {
		opts = append(opts, http.OptReceiverAccessLog(stderr))
	}
	r, err := http.NewReceiver(h, opts...)
	if err != nil {
		return errors.Wrap(err, "starting receiver")
	}
	defer func() {
		if cerr := r.Close(10 * time.Second); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ctx, cancel := interruptContext(m.log)
	defer cancel()
	return errors.Wrap(r.Consume(ctx), "receiving")
}

func init() {
	subcommandFns["push"] = NewPushCommand
}
