package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"os"
	"time"

	"github.com/ppopth/ecstore/ec"
	"github.com/ppopth/ecstore/shard/httpnode"
	"github.com/ppopth/ecstore/shard/quic"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/pflag"
)

func (a *app) root(ctx context.Context) *Command {
	return &Command{
		Name:    "ecstore",
		Summary: "Store files as erasure coded shards that survive the loss of any m of them.",
		Subcommands: []*Command{
			a.putCommand(ctx),
			a.getCommand(ctx),
			a.statCommand(ctx),
			a.statusCommand(ctx),
			a.healCommand(ctx),
			a.scrubCommand(ctx),
			a.rmCommand(ctx),
			a.lsCommand(ctx),
			a.serveHTTPCommand(ctx),
			a.serveQUICCommand(ctx),
			a.configCommand(),
		},
	}
}

// withStore loads the config, opens the object store, runs f and closes the
// store.
func (a *app) withStore(ctx context.Context, f func(*ec.ObjectStore) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	store, err := openObjectStore(ctx, cfg)
	if err != nil {
		return err
	}
	return errors.Join(f(store), store.Close())
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) putCommand(ctx context.Context) *Command {
	var asJSON bool
	return &Command{
		Name:    "put",
		Summary: "Store a file and print its object id",
		Usage:   "ecstore put <file|-> [flags]",
		Flags: a.flags("put", func(fs *pflag.FlagSet) {
			fs.BoolVar(&asJSON, "json", false, "print the full metadata record")
		}),
		MinArgs: 1, MaxArgs: 1,
		Run: func(args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(a.stdin)
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			return a.withStore(ctx, func(store *ec.ObjectStore) error {
				obj, err := store.Put(ctx, data)
				if err != nil {
					return err
				}
				if asJSON {
					return a.printJSON(obj)
				}
				_, err = fmt.Fprintln(a.stdout, obj.ID)
				return err
			})
		},
	}
}

func (a *app) getCommand(ctx context.Context) *Command {
	var output string
	return &Command{
		Name:    "get",
		Summary: "Read an object back",
		Usage:   "ecstore get <id> [-o file] [flags]",
		Flags: a.flags("get", func(fs *pflag.FlagSet) {
			fs.StringVarP(&output, "output", "o", "-", "output file, - for stdout")
		}),
		MinArgs: 1, MaxArgs: 1,
		Run: func(args []string) error {
			return a.withStore(ctx, func(store *ec.ObjectStore) error {
				data, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if output == "-" {
					_, err = a.stdout.Write(data)
					return err
				}
				return os.WriteFile(output, data, 0o644)
			})
		},
	}
}

func (a *app) statCommand(ctx context.Context) *Command {
	return &Command{
		Name:    "stat",
		Summary: "Print an object's metadata record",
		Usage:   "ecstore stat <id> [flags]",
		Flags:   a.flags("stat", nil),
		MinArgs: 1, MaxArgs: 1,
		Run: func(args []string) error {
			return a.withStore(ctx, func(store *ec.ObjectStore) error {
				obj, err := store.Stat(ctx, args[0])
				if err != nil {
					return err
				}
				return a.printJSON(obj)
			})
		},
	}
}

func (a *app) statusCommand(ctx context.Context) *Command {
	var deep bool
	return &Command{
		Name:    "status",
		Summary: "Classify an object as healthy, degraded or critical",
		Usage:   "ecstore status <id> [--deep] [flags]",
		Flags: a.flags("status", func(fs *pflag.FlagSet) {
			fs.BoolVar(&deep, "deep", false, "read every shard and check its checksum")
		}),
		MinArgs: 1, MaxArgs: 1,
		Run: func(args []string) error {
			return a.withStore(ctx, func(store *ec.ObjectStore) error {
				if !deep {
					status, err := store.Status(ctx, args[0])
					if err != nil {
						return err
					}
					return a.printJSON(status)
				}
				status, corrupt, err := store.Verify(ctx, args[0])
				if err != nil {
					return err
				}
				return a.printJSON(struct {
					Status  any   `json:"status"`
					Corrupt []int `json:"corrupt"`
				}{status, corrupt})
			})
		},
	}
}

func (a *app) healCommand(ctx context.Context) *Command {
	return &Command{
		Name:    "heal",
		Summary: "Rewrite the missing and corrupt shards of an object",
		Usage:   "ecstore heal <id> [flags]",
		Flags:   a.flags("heal", nil),
		MinArgs: 1, MaxArgs: 1,
		Run: func(args []string) error {
			return a.withStore(ctx, func(store *ec.ObjectStore) error {
				report, err := store.Heal(ctx, args[0])
				if report != nil {
					if perr := a.printJSON(report); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
}

func (a *app) scrubCommand(ctx context.Context) *Command {
	var watch bool
	return &Command{
		Name:    "scrub",
		Summary: "Check and heal every object",
		Usage:   "ecstore scrub [--watch] [flags]",
		Flags: a.flags("scrub", func(fs *pflag.FlagSet) {
			fs.BoolVar(&watch, "watch", false, "keep scrubbing at the configured interval")
		}),
		MaxArgs: 0,
		Run: func([]string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			interval, _ := cfg.ScrubInterval()
			retryAfter, _ := cfg.ScrubRetryAfter()
			params := ec.ScrubParams{Interval: interval, Workers: cfg.Scrub.Workers, RetryAfter: retryAfter}

			store, err := openObjectStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			scrubber, err := ec.NewScrubber(store, params)
			if err != nil {
				return err
			}
			defer scrubber.Close()

			if watch {
				log.Infof("scrubbing every %s", interval)
				scrubber.Start()
				<-ctx.Done()
				return nil
			}
			report, err := scrubber.RunOnce(ctx)
			if err != nil {
				return err
			}
			return a.printJSON(report)
		},
	}
}

func (a *app) rmCommand(ctx context.Context) *Command {
	return &Command{
		Name:    "rm",
		Summary: "Delete objects",
		Usage:   "ecstore rm <id>... [flags]",
		Flags:   a.flags("rm", nil),
		MinArgs: 1, MaxArgs: -1,
		Run: func(args []string) error {
			return a.withStore(ctx, func(store *ec.ObjectStore) error {
				var errs []error
				for _, id := range args {
					if err := store.Delete(ctx, id); err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", id, err))
					}
				}
				return errors.Join(errs...)
			})
		},
	}
}

func (a *app) lsCommand(ctx context.Context) *Command {
	var long bool
	return &Command{
		Name:    "ls",
		Summary: "List object ids",
		Usage:   "ecstore ls [-l] [flags]",
		Flags: a.flags("ls", func(fs *pflag.FlagSet) {
			fs.BoolVarP(&long, "long", "l", false, "also print size, code and creation time")
		}),
		MaxArgs: 0,
		Run: func([]string) error {
			return a.withStore(ctx, func(store *ec.ObjectStore) error {
				ids, err := store.List(ctx)
				if err != nil {
					return err
				}
				for _, id := range ids {
					if !long {
						fmt.Fprintln(a.stdout, id)
						continue
					}
					obj, err := store.Stat(ctx, id)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.stdout, "%s\t%d\t%d+%d\t%s\t%s\n", id, obj.Size(),
						obj.DataShards, obj.ParityShards, obj.Compression, obj.CreatedAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
}

func (a *app) serveHTTPCommand(ctx context.Context) *Command {
	return &Command{
		Name:    "serve-http",
		Summary: "Run an HTTP shard node",
		Usage:   "ecstore serve-http [flags]",
		Flags:   a.flags("serve-http", nil),
		MaxArgs: 0,
		Run: func([]string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			store, err := openNodeStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			handler := httpnode.NewServer(cfg.Serve.NodeID, store)
			handler.SetMaxShardSize(cfg.Serve.MaxShardSize)
			listener, err := net.Listen("tcp", cfg.Serve.HTTPListen)
			if err != nil {
				return err
			}
			server := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			errCh := make(chan error, 1)
			go func() { errCh <- server.Serve(listener) }()
			log.Infof("shard node %s serving http on %s", cfg.Serve.NodeID, listener.Addr())

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func (a *app) serveQUICCommand(ctx context.Context) *Command {
	return &Command{
		Name:    "serve-quic",
		Summary: "Run a QUIC shard node",
		Usage:   "ecstore serve-quic [flags]",
		Flags:   a.flags("serve-quic", nil),
		MaxArgs: 0,
		Run: func([]string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			endpoint, err := netip.ParseAddrPort(cfg.Serve.QUICListen)
			if err != nil {
				return fmt.Errorf("serve.quic_listen: %w", err)
			}
			key, err := quic.LoadOrCreateKey(cfg.Shards.IdentityFile)
			if err != nil {
				return err
			}
			opts := []quic.NodeOption{quic.WithAddrPort(endpoint), quic.WithIdentity(key)}
			if len(cfg.Serve.AllowedPeers) > 0 {
				allowed := make([]peer.ID, len(cfg.Serve.AllowedPeers))
				for i, s := range cfg.Serve.AllowedPeers {
					if allowed[i], err = peer.Decode(s); err != nil {
						return fmt.Errorf("serve.allowed_peers[%d]: %w", i, err)
					}
				}
				opts = append(opts, quic.WithAllowedPeers(allowed...))
			}

			store, err := openNodeStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			node, err := quic.NewNode(store, opts...)
			if err != nil {
				return err
			}
			defer node.Close()

			fmt.Fprintf(a.stdout, "%s %s\n", node.ID(), node.LocalAddr())
			log.Infof("shard node %s serving quic on %s", node.ID(), node.LocalAddr())
			<-ctx.Done()
			log.Infof("shutting down: sent %d bytes, received %d bytes", node.BytesSent(), node.BytesReceived())
			return nil
		},
	}
}

func (a *app) configCommand() *Command {
	return &Command{
		Name:    "config",
		Summary: "Print the effective configuration",
		Usage:   "ecstore config [flags]",
		Flags:   a.flags("config", nil),
		MaxArgs: 0,
		Run: func([]string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}
}
