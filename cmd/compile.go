package cmd

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/datasift/datasift-go"
	"github.com/datasift/datasift-go/rest"
	"github.com/jaffee/commandeer/cobrafy"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// CompileMain holds the config for the compile command.
type CompileMain struct {
	Username   string `help:"DataSift username."`
	Key        string `help:"DataSift API key."`
	Host       string `help:"Host for REST API calls."`
	Definition string `help:"CSDL to compile."`
	Validate   bool   `help:"Only validate the CSDL and report its DPU cost."`
	CachePath  string `help:"Cache compiled hashes in this file (bolt) or directory (leveldb)."`
	CacheType  string `help:"Hash cache backend: bolt or leveldb."`
}

// NewCompileMain gets a CompileMain with default values.
func NewCompileMain() *CompileMain {
	return &CompileMain{
		Host:      datasift.DefaultAPIHost,
		CacheType: "bolt",
	}
}

// Run compiles (or validates) the definition and prints its hash to stdout.
func (m *CompileMain) Run() error {
	return m.run(os.Stdout, os.Stderr)
}

func (m *CompileMain) run(stdout, stderr io.Writer) (err error) {
	if m.Definition == "" {
		return errors.New("--definition is required")
	}
	u, err := datasift.NewUser(m.Username, m.Key)
	if err != nil {
		return err
	}
	u.APIHost = m.Host
	l := datasift.StdLogger{Logger: log.New(stderr, "", log.LstdFlags)}
	client, err := rest.NewClient(u, rest.OptClientLogger(l))
	if err != nil {
		return errors.Wrap(err, "creating api client")
	}

	if m.Validate {
		v, err := client.Validate(m.Definition)
		if err != nil {
			return errors.Wrap(err, "validating")
		}
		_, err = fmt.Fprintf(stdout, "valid, created %s, %v DPU\n", v.CreatedAt, v.DPU)
		return err
	}

	cache, err := (&Cache{Path: m.CachePath, Type: m.CacheType}).open()
	if err != nil {
		return errors.Wrap(err, "opening hash cache")
	}
	var opts []datasift.DefinitionOption
	if cache != nil {
		defer func() {
			if cerr := cache.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		opts = append(opts, datasift.OptDefinitionHashCache(cache))
	}
	hash, err := datasift.NewDefinition(m.Definition, client, opts...).Hash()
	if err != nil {
		return errors.Wrap(err, "compiling")
	}
	_, err = fmt.Fprintln(stdout, hash)
	return err
}

// NewCompileCommand gets the compile command.
func NewCompileCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	m := NewCompileMain()
	com, err := cobrafy.Command(m)
	if err != nil {
		panic(err)
	}
	com.Use = "compile"
	com.Short = "compile - compile CSDL to a stream hash"
	com.Run = nil
	com.RunE = func(cmd *cobra.Command, args []string) error {
		return m.run(stdout, stderr)
	}
	return com
}

func init() {
	subcommandFns["compile"] = NewCompileCommand
}
