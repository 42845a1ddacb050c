package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mahaj/lytecord/pkg/auth"
	"github.com/mahaj/lytecord/pkg/client"
	"github.com/mahaj/lytecord/pkg/model"
)

const requestTimeout = 10 * time.Second

type options struct {
	addr     string
	wsURL    string
	insecure bool
	caFile   string

	username string
	password string
	token    string
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "lytecord",
		Short: "Terminal client for a lytecord chat server",
		Long: `lytecord talks to a chat server over TLS, or over its WebSocket
gateway when --ws is given.

Log in with --username and --password, or resume a session with --token
(also read from LYTECORD_TOKEN).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.addr, "addr", "localhost:24827", "server address")
	flags.StringVar(&opts.wsURL, "ws", "", "WebSocket gateway URL, e.g. wss://host/ws (overrides --addr)")
	flags.BoolVar(&opts.insecure, "insecure", false, "skip server certificate verification")
	flags.StringVar(&opts.caFile, "ca", "", "PEM file with the CA that signed the server certificate")
	flags.StringVarP(&opts.username, "username", "u", "", "username")
	flags.StringVarP(&opts.password, "password", "p", "", "password")
	flags.StringVar(&opts.token, "token", os.Getenv("LYTECORD_TOKEN"), "session token from a previous login")

	rootCmd.AddCommand(
		registerCmd(opts),
		guildsCmd(opts),
		joinCmd(opts),
		chatCmd(opts),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// connect dials the server without authenticating.
func (o *options) connect(ctx context.Context) (*client.Client, error) {
	cfg := client.DialConfig{CAFile: o.caFile, InsecureSkipVerify: o.insecure}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if o.wsURL != "" {
		t, err := client.DialWebSocket(ctx, o.wsURL, cfg)
		if err != nil {
			return nil, err
		}
		return client.New(t), nil
	}
	t, err := client.Dial(ctx, o.addr, cfg)
	if err != nil {
		return nil, err
	}
	return client.New(t), nil
}

// login connects and authenticates with the token or the credentials.
func (o *options) login(ctx context.Context) (*client.Client, model.User, error) {
	c, err := o.connect(ctx)
	if err != nil {
		return nil, model.User{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var user model.User
	switch {
	case o.token != "":
		user, _, err = c.Resume(ctx, o.token)
	case o.username != "" && o.password != "":
		user, _, err = c.Login(ctx, o.username, o.password)
	default:
		err = errors.New("--token or --username and --password are required")
	}
	if err != nil {
		c.Close()
		return nil, model.User{}, err
	}
	return c, user, nil
}

func registerCmd(opts *options) *cobra.Command {
	var color string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and print its session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.username == "" || opts.password == "" {
				return errors.New("--username and --password are required")
			}
			c, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if color == "" {
				color = randomColor()
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			user, token, err := c.Register(ctx, opts.username, opts.password, color)
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s (id %d)\n", paint(user), user.ID)
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&color, "color", "", "name colour as #rrggbb (random when empty)")
	return cmd
}

func guildsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "guilds",
		Short: "List joined guilds and their channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.login(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			guilds, err := c.Guilds(ctx)
			if err != nil {
				return err
			}
			if len(guilds) == 0 {
				fmt.Println("No guilds yet. Use 'lytecord join <code>' to join one.")
				return nil
			}
			for _, g := range guilds {
				fmt.Printf("%s (%d)\n", g.Name, g.ID)
				channels, err := c.Channels(ctx, g.ID)
				if err != nil {
					return err
				}
				for _, ch := range channels {
					fmt.Printf("  #%s (%d)\n", ch.Name, ch.ID)
				}
			}
			return nil
		},
	}
}

func joinCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "join <code>",
		Short: "Join a guild with its join code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.login(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			guild, err := c.JoinGuild(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Joined %s (%d)\n", guild.Name, guild.ID)
			return nil
		},
	}
}

func chatCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <channel-id>",
		Short: "Read and send messages in a channel",
		Long: `Shows the latest messages of a channel and follows new ones.
Lines typed are sent as messages. Commands:
  /older   show older messages
  /quit    leave`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channelID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || channelID <= 0 {
				return fmt.Errorf("invalid channel id %q", args[0])
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			c, user, err := opts.login(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			return chat(ctx, c, user, channelID, os.Stdin)
		},
	}
}

// randomColor picks a name colour the server accepts.
func randomColor() string {
	for {
		color := fmt.Sprintf("#%06x", rand.IntN(1<<24))
		if auth.ValidNameColor(color) {
			return color
		}
	}
}
