package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"introskip/internal/httputil"
	"introskip/internal/media/plex"
	"introskip/internal/media/plextv"
	"introskip/internal/models"
	"introskip/internal/seek"
	"introskip/internal/server"
	"introskip/internal/sessions"
	"introskip/internal/skipper"
	"introskip/internal/store"
)

// errAuthRequired maps to exit code 3 in main so supervisors can tell
// "needs auth" apart from ordinary failures.
var errAuthRequired = errors.New("no valid Plex auth token; run `introskip auth` first")

func newRunCmd(root *rootOptions) *cobra.Command {
	var serverName string
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch playback and skip intros",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStore(root)
			if err != nil {
				return err
			}
			defer st.Close()

			srv, err := resolveServer(ctx, st, serverName)
			if err != nil {
				return err
			}

			plexSrv := plex.New(srv)
			if err := plexSrv.TestConnection(ctx); err != nil {
				return fmt.Errorf("cannot reach %s at %s: %w", srv.Name, srv.URL, err)
			}

			targets := seek.Chain{
				plex.NewClientProvider(plexSrv),
				plex.NewCompanionProvider(srv.ClientID),
			}
			skip := skipper.New(targets)
			disp := sessions.NewDispatcher(skip, sessions.DefaultRemovalTimeout)
			sched := sessions.NewScheduler(plexSrv, disp, skip)

			g, gctx := errgroup.WithContext(ctx)

			ch, err := plexSrv.Subscribe(gctx)
			if err != nil {
				return fmt.Errorf("subscribing to notifications: %w", err)
			}

			g.Go(func() error {
				for n := range ch {
					if err := sched.HandleNotification(gctx, n); err != nil {
						log.Printf("handling notification: %v", err)
					}
				}
				return nil
			})

			if listenAddr != "" {
				api := server.NewServer(st, server.WithSessions(sched), server.WithSkips(skip))
				httpServer := &http.Server{
					Addr:              listenAddr,
					Handler:           api,
					ReadHeaderTimeout: 10 * time.Second,
				}
				g.Go(func() error {
					log.Printf("Status API listening on %s", listenAddr)
					if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return httpServer.Shutdown(shutdownCtx)
				})
			}

			log.Println("Ready")

			err = g.Wait()
			log.Println("Shutting down...")
			sched.Stop()
			skip.Wait()
			return err
		},
	}

	cmd.Flags().StringVar(&serverName, "server", "", "name of the server to watch (default: any owned server)")
	cmd.Flags().StringVar(&listenAddr, "listen", envOr("LISTEN_ADDR", ":7391"), "status API address (empty disables it)")

	return cmd
}

// resolveServer produces the server to watch. Pointing PLEX_URL and
// PLEX_TOKEN at a server skips account discovery entirely; otherwise the
// stored account token resolves one through plex.tv, remembered across
// runs.
func resolveServer(ctx context.Context, st *store.Store, name string) (models.Server, error) {
	if rawURL := os.Getenv("PLEX_URL"); rawURL != "" {
		token := os.Getenv("PLEX_TOKEN")
		if token == "" {
			return models.Server{}, errors.New("PLEX_URL is set but PLEX_TOKEN is not")
		}
		if err := httputil.ValidateServerURL(rawURL); err != nil {
			return models.Server{}, fmt.Errorf("PLEX_URL: %w", err)
		}
		appID, err := st.AppID()
		if err != nil {
			return models.Server{}, err
		}
		return models.Server{
			Name:     "plex",
			URL:      strings.TrimRight(rawURL, "/"),
			Token:    token,
			ClientID: appID,
		}, nil
	}

	token, err := st.AuthToken()
	if err != nil {
		return models.Server{}, err
	}
	if token == "" {
		return models.Server{}, errAuthRequired
	}

	appID, err := st.AppID()
	if err != nil {
		return models.Server{}, err
	}
	ptv := plextv.New(appID)

	valid, err := ptv.IsTokenValid(ctx, token)
	if err != nil {
		return models.Server{}, fmt.Errorf("checking auth token: %w", err)
	}
	if !valid {
		return models.Server{}, errAuthRequired
	}

	if saved, err := st.Server(); err == nil {
		if name == "" || strings.EqualFold(saved.Name, name) {
			return saved, nil
		}
	} else if !errors.Is(err, models.ErrNotFound) {
		return models.Server{}, err
	}

	srv, err := ptv.FindServer(ctx, token, name)
	if err != nil {
		return models.Server{}, err
	}
	if err := st.SetServer(srv); err != nil {
		return models.Server{}, fmt.Errorf("remembering server: %w", err)
	}
	log.Printf("Found %s at %s", srv.Name, srv.URL)
	return srv, nil
}
