// Command ringscan exports a Cassandra table by token range.
//
//	ringscan read --keyspace shop --table orders --out ./exports
//	ringscan read --keyspace shop --table orders --ranges ranges.json --bucket exports --workers 8
//	ringscan inspect ./exports shop/orders/<run-id>
//	ringscan inspect --bucket exports shop/orders/<run-id>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pithecene-io/ringscan/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// newRootCmd wires the command tree to one viper instance so flags,
// environment and config file resolve through the same keys.
func newRootCmd() *cobra.Command {
	v := config.New()
	var configFile string

	root := &cobra.Command{
		Use:           "ringscan",
		Short:         "Read Cassandra tables by token range",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	pf.String("log-level", "INFO", "log level: DEBUG, INFO, WARN, ERROR")
	pf.String("log-format", "text", "log format: text or json")
	bindFlags(v, pf, map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
	})

	root.AddCommand(newReadCmd(v, &configFile), newInspectCmd(openS3))
	return root
}

// bindFlags binds config keys to flags by name. Unset flags fall through to
// the environment, the config file and the defaults, in that order.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		f := fs.Lookup(name)
		if f == nil {
			panic("ringscan: no flag " + name + " for " + key)
		}
		if err := v.BindPFlag(key, f); err != nil {
			panic(err)
		}
	}
}
