package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Abdul-khadeer-2404/CrewChat/api"
	"github.com/Abdul-khadeer-2404/CrewChat/console"
	"github.com/Abdul-khadeer-2404/CrewChat/protocol"
	"github.com/Abdul-khadeer-2404/CrewChat/room"
	"github.com/Abdul-khadeer-2404/CrewChat/session"
	"github.com/Abdul-khadeer-2404/CrewChat/transport"
)

var rootCmd = &cobra.Command{
	Use:   "crewchat",
	Short: "Terminal client for the CrewChat room chat server",
	RunE:  runClient,
}

var (
	flagServerURL string
	flagRoom      string
	flagUsername  string
	flagCreate    string
	flagDataPath  string
	flagPort      int

	flagReconnect      bool
	flagReconnectDelay time.Duration
	flagMaxAttempts    int
	flagConnectTimeout time.Duration
)

func init() {
	// .env first so the flag defaults below can see it
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("[chat] load .env")
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagServerURL, "server-url", envOr("CREWCHAT_SERVER", "http://localhost:3000"), "chat server base URL")
	flags.StringVar(&flagRoom, "room", "", "8-character room id to join")
	flags.StringVar(&flagUsername, "username", envOr("CREWCHAT_USER", ""), "display name")
	flags.StringVar(&flagCreate, "create", "", "create a room with this name instead of joining by id")
	flags.StringVar(&flagDataPath, "data-path", "", "directory for the session store (defaults under the user config dir)")
	flags.IntVar(&flagPort, "port", -1, "optional local debug HTTP port (negative to disable)")
	flags.BoolVar(&flagReconnect, "reconnect", true, "automatically reconnect after connection loss")
	flags.DurationVar(&flagReconnectDelay, "reconnect-delay", time.Second, "delay between reconnect attempts")
	flags.IntVar(&flagMaxAttempts, "reconnect-attempts", 5, "reconnect attempt ceiling per outage")
	flags.DurationVar(&flagConnectTimeout, "connect-timeout", 20*time.Second, "dial and handshake timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute crewchat command")
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := session.Open(dataPath())
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("[chat] session store close error")
		}
	}()

	sess, err := resolveSession(ctx, store)
	if err != nil {
		return err
	}
	log.Info().Str("session", sess.ID).Str("room", sess.RoomID).Str("user", sess.Username).Msg("[chat] session ready")

	wsEndpoint, err := socketURL(flagServerURL)
	if err != nil {
		return fmt.Errorf("server url: %w", err)
	}

	adapter := transport.New(transport.Config{
		URL:            wsEndpoint,
		Reconnect:      flagReconnect,
		ReconnectDelay: flagReconnectDelay,
		MaxAttempts:    flagMaxAttempts,
		ConnectTimeout: flagConnectTimeout,
	})

	renderer := console.NewRenderer(os.Stdout)
	typing := room.NewTypingCoordinator(adapter, renderer, 0)
	eng := room.New(sess, adapter, renderer, typing)
	tracker := room.NewUnreadTracker(fmt.Sprintf("CrewChat - %s", sess.RoomID), renderer.SetTitle)
	eng.Observe(tracker.Bump)
	eng.OnTerminal(func() {
		if err := store.Clear(); err != nil {
			log.Warn().Err(err).Msg("[chat] clear session")
		}
	})

	adapter.OnStatus(func(s transport.Status) {
		switch s {
		case transport.StatusConnected:
			renderer.Banner("Connected")
		case transport.StatusReconnecting:
			renderer.Banner("Reconnecting...")
		case transport.StatusDisconnected:
			renderer.Banner("Disconnected")
		case transport.StatusFailed:
			renderer.Banner("Connection failed. Type /reconnect to retry.")
		}
	})

	eng.Run()
	if err := adapter.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	httpSrv := debugServer(eng, adapter)

	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		console.RunInput(ctx, os.Stdin, eng, typing, console.Commands{
			Users: func() { renderer.Users(eng.Snapshot().Room.Users) },
			Reconnect: func() {
				if err := adapter.Connect(ctx); err != nil {
					log.Debug().Err(err).Msg("[chat] manual reconnect")
				}
			},
			Leave: func() {
				if err := store.Clear(); err != nil {
					log.Warn().Err(err).Msg("[chat] clear session")
				}
			},
			Away: func() { tracker.SetActive(false) },
			Back: func() {
				tracker.SetActive(true)
				// Mirrors the regain-focus retry: a dead connection gets
				// one manual restart when the user comes back.
				if st := adapter.Status(); st == transport.StatusFailed || st == transport.StatusDisconnected {
					if err := adapter.Connect(ctx); err != nil {
						log.Debug().Err(err).Msg("[chat] focus reconnect")
					}
				}
			},
		})
	}()

	select {
	case <-ctx.Done():
	case <-inputDone:
	}

	typing.Stop()
	adapter.Disconnect()
	if httpSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("[chat] debug server shutdown error")
		}
	}
	log.Info().Msg("[chat] shutdown complete")
	return nil
}

// resolveSession runs the join flow: create or look up a room when asked,
// otherwise reuse the stored session from a previous run.
func resolveSession(ctx context.Context, store *session.Store) (protocol.Session, error) {
	switch {
	case flagCreate != "":
		if flagUsername == "" {
			return protocol.Session{}, errors.New("--create requires --username")
		}
		rm, err := api.New(flagServerURL).CreateRoom(ctx, flagCreate, flagUsername)
		if err != nil {
			return protocol.Session{}, fmt.Errorf("create room: %w", err)
		}
		return store.Save(protocol.Session{Username: flagUsername, RoomID: rm.ID, IsCreator: true})
	case flagRoom != "":
		if flagUsername == "" {
			return protocol.Session{}, errors.New("--room requires --username")
		}
		rm, err := api.New(flagServerURL).LookupRoom(ctx, flagRoom)
		if err != nil {
			return protocol.Session{}, fmt.Errorf("join room: %w", err)
		}
		return store.Save(protocol.Session{Username: flagUsername, RoomID: rm.ID})
	default:
		sess, err := store.Load()
		if errors.Is(err, session.ErrMissingSession) {
			return protocol.Session{}, errors.New("no stored session: pass --room and --username, or --create")
		}
		return sess, err
	}
}

func debugServer(eng *room.Engine, adapter *transport.Adapter) *http.Server {
	if flagPort < 0 {
		return nil
	}
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Status string        `json:"status"`
			ConnID string        `json:"connId,omitempty"`
			State  room.Snapshot `json:"state"`
		}{adapter.Status().String(), adapter.ConnID(), eng.Snapshot()})
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", flagPort),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	log.Info().Msgf("[chat] debug endpoint at http://%s", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("[chat] debug server stopped")
		}
	}()
	return srv
}

// socketURL turns the HTTP base URL into the websocket endpoint.
func socketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket"
	return u.String(), nil
}

func dataPath() string {
	if flagDataPath != "" {
		return flagDataPath
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "crewchat")
	}
	return ".crewchat"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
