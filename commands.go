package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/chatspot/chatspot/config"
	"github.com/chatspot/chatspot/db"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const timeLayout = "2006-01-02 15:04"

// run opens the app for one command and closes it afterwards. With online
// set the saved session is restored and connected first.
func run(cmd *cobra.Command, flags *globalFlags, online bool, fn func(ctx context.Context, a *App) error) error {
	a, err := openApp(flags, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if online {
		if err := a.restore(); err != nil {
			return err
		}
		if err := a.client.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
	}
	return fn(ctx, a)
}

// ----------------------------- Auth -----------------------------

func readPassword(cmd *cobra.Command, password string) (string, error) {
	if password != "" {
		return password, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}

func authCmd(flags *globalFlags, use, short string, register bool) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   use + " <username>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			return run(cmd, flags, false, func(ctx context.Context, a *App) error {
				var err error
				if register {
					err = a.client.Register(ctx, args[0], pw)
				} else {
					err = a.client.Login(ctx, args[0], pw)
				}
				if !a.client.Auth().Authenticated {
					return err
				}
				if err != nil {
					// Signed in, but the websocket is unreachable.
					a.logger.Warn("Signed in without a live connection", "error", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", a.client.Auth().User)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted on stdin when empty)")
	return cmd
}

func registerCmd(flags *globalFlags) *cobra.Command {
	return authCmd(flags, "register", "Create an account and sign in", true)
}

func loginCmd(flags *globalFlags) *cobra.Command {
	return authCmd(flags, "login", "Sign in and save the session", false)
}

func logoutCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, false, func(ctx context.Context, a *App) error {
				if err := a.client.Logout(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
				return nil
			})
		},
	}
}

func whoamiCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the signed in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, false, func(ctx context.Context, a *App) error {
				if err := a.restore(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), a.client.Auth().User)
				return nil
			})
		},
	}
}

// ---------------------------- Sending ---------------------------

func sendCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "send <peer> <message...>",
		Short: "Send a text message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := strings.Join(args[1:], " ")
			return run(cmd, flags, true, func(ctx context.Context, a *App) error {
				return a.client.SendText(ctx, args[0], body)
			})
		},
	}
}

func clearCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <peer>",
		Short: "Clear the conversation on both ends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, true, func(ctx context.Context, a *App) error {
				return a.client.ClearChat(ctx, args[0])
			})
		},
	}
}

func deleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <peer>",
		Short: "Delete the conversation and the room on both ends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, true, func(ctx context.Context, a *App) error {
				return a.client.DeleteUser(ctx, args[0])
			})
		},
	}
}

// ---------------------------- Reading ---------------------------

func printRooms(w io.Writer, rooms []db.Room) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PEER\tLAST MESSAGE\tUPDATED")
	for _, room := range rooms {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", room.Peer, room.LastMessage, time.UnixMilli(room.Updated).Format(timeLayout))
	}
	tw.Flush()
}

func formatMessage(msg db.Message) string {
	ts := time.UnixMilli(msg.Timestamp).Format(timeLayout)
	if msg.Type == db.TypeClearChat {
		return fmt.Sprintf("[%s] * %s by %s", ts, db.ChatCleared, msg.Sender)
	}
	return fmt.Sprintf("[%s] %s: %s", ts, msg.Sender, msg.Body)
}

func roomsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, false, func(ctx context.Context, a *App) error {
				if err := a.restore(); err != nil {
					return err
				}
				rooms, err := a.store.GetRooms(a.client.Auth().User)
				if err != nil {
					return err
				}
				printRooms(cmd.OutOrStdout(), rooms)
				return nil
			})
		},
	}
}

func historyCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history <peer>",
		Short: "Print the stored conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, false, func(ctx context.Context, a *App) error {
				if err := a.restore(); err != nil {
					return err
				}
				msgs, err := a.store.GetMessages(a.client.Auth().User, args[0])
				if err != nil {
					return err
				}
				for _, msg := range msgs {
					fmt.Fprintln(cmd.OutOrStdout(), formatMessage(msg))
				}
				return nil
			})
		},
	}
}

func watchCmd(flags *globalFlags) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch [peer]",
		Short: "Stay connected and print updates as they arrive",
		Long: `Watch keeps the connection open. With a peer it prints the
conversation every time it changes, otherwise the conversation list.
Typing indicators are printed as they change. Stop with Ctrl-C.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return run(cmd, flags, true, func(ctx context.Context, a *App) error {
				addr := metricsAddr
				if addr == "" {
					addr = a.cfg.Metrics.Addr
				}
				if addr != "" {
					srv := &http.Server{Addr: addr, Handler: a.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
					go func() {
						if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							a.logger.Warn("Metrics server stopped", "error", err)
						}
					}()
					defer srv.Close()
				}

				var peer string
				if len(args) == 1 {
					peer = args[0]
				}
				return watch(ctx, a, peer, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func watch(ctx context.Context, a *App, peer string, out io.Writer) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	if peer != "" {
		a.client.SelectPeer(peer)
		sub, err := a.client.ObserveMessages(peer)
		if err != nil {
			return err
		}
		defer sub.Close()
		return watchLoop(ctx, a, ticker.C, out, func() bool {
			select {
			case msgs, ok := <-sub.C():
				if !ok {
					return false
				}
				fmt.Fprintf(out, "--- %s (%d messages)\n", peer, len(msgs))
				for _, msg := range msgs {
					fmt.Fprintln(out, formatMessage(msg))
				}
			default:
			}
			return true
		})
	}

	sub, err := a.client.ObserveRooms()
	if err != nil {
		return err
	}
	defer sub.Close()
	return watchLoop(ctx, a, ticker.C, out, func() bool {
		select {
		case rooms, ok := <-sub.C():
			if !ok {
				return false
			}
			printRooms(out, rooms)
		default:
		}
		return true
	})
}

// watchLoop polls drain on every tick, prints typing changes and returns when
// ctx ends or the connection is lost.
func watchLoop(ctx context.Context, a *App, tick <-chan time.Time, out io.Writer, drain func() bool) error {
	var typing string
	for {
		if !drain() {
			return nil
		}
		if peers := strings.Join(a.client.TypingPeers(), ", "); peers != typing {
			typing = peers
			if typing != "" {
				fmt.Fprintf(out, "%s typing...\n", typing)
			}
		}
		if st := a.client.State(); !st.Connected {
			return fmt.Errorf("connection lost: %s", st.Err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		}
	}
}

// ---------------------------- Config ----------------------------

func configCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), flags.logLevel)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(flags, logger)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default user config if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), flags.logLevel)
			if err != nil {
				return err
			}
			return config.NewLoader(logger).EnsureUserConfig()
		},
	})

	return cmd
}
