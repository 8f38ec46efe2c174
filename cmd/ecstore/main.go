// Command ecstore stores files as erasure coded shards and serves shard
// nodes.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ppopth/ecstore/config"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/pflag"
)

var log = logging.Logger("ecstore")

// app holds what every command shares.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	global globalFlags
}

// globalFlags are accepted by every leaf command and override the config
// file.
type globalFlags struct {
	configPath   string
	logLevel     string
	dataShards   int
	parityShards int
	compression  string
	checksum     string
	shardBackend string
	repairOnRead bool

	flagSet *pflag.FlagSet
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&g.configPath, "config", "c", "", "config file (default $"+config.EnvConfig+")")
	fs.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")
	fs.IntVarP(&g.dataShards, "data-shards", "k", 0, "data shards for new objects")
	fs.IntVarP(&g.parityShards, "parity-shards", "m", 0, "parity shards for new objects")
	fs.StringVar(&g.compression, "compression", "", "none, lz4 or zstd")
	fs.StringVar(&g.checksum, "checksum", "", "blake3 or sha256")
	fs.StringVar(&g.shardBackend, "shards", "", "shard backend: memory, bolt, redis, http or quic")
	fs.BoolVar(&g.repairOnRead, "repair-on-read", true, "rewrite bad shards found by get")
	g.flagSet = fs
}

// loadConfig reads the config file and applies the flags the user set.
func (a *app) loadConfig() (*config.Config, error) {
	g := &a.global
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadFile(g.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	changed := func(name string) bool {
		return g.flagSet != nil && g.flagSet.Changed(name)
	}
	if changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
	if changed("data-shards") {
		cfg.Erasure.DataShards = g.dataShards
	}
	if changed("parity-shards") {
		cfg.Erasure.ParityShards = g.parityShards
	}
	if changed("compression") {
		cfg.Object.Compression = g.compression
	}
	if changed("checksum") {
		cfg.Object.Checksum = g.checksum
	}
	if changed("shards") {
		cfg.Shards.Backend = g.shardBackend
	}
	if changed("repair-on-read") {
		cfg.Object.RepairOnRead = g.repairOnRead
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, err := logging.LevelFromString(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logging.SetAllLoggers(level)
	return cfg, nil
}

// flags returns a flag set holding the global flags plus the command's own.
func (a *app) flags(name string, extra func(fs *pflag.FlagSet)) func() *pflag.FlagSet {
	return func() *pflag.FlagSet {
		fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
		a.global.register(fs)
		if extra != nil {
			extra(fs)
		}
		return fs
	}
}

func main() {
	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := a.root(ctx).Execute(os.Args[1:], os.Stderr)
	stop()
	if errors.Is(err, errHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ecstore: %v\n", err)
		os.Exit(1)
	}
}
