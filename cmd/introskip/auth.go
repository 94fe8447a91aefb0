package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"introskip/internal/media/plextv"
)

// authTimeout bounds the whole PIN flow. plex.tv expires the PIN on its
// own well before this; the ceiling just keeps an abandoned login from
// hanging forever.
const authTimeout = 10 * time.Minute

func newAuthCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Link introskip to your Plex account",
		Long: `auth runs the plex.tv PIN flow: it prints a login URL, waits for you
to confirm the link in a browser, and stores the resulting account
token for "introskip run".`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(root)
			if err != nil {
				return err
			}
			defer st.Close()

			appID, err := st.AppID()
			if err != nil {
				return err
			}
			ptv := plextv.New(appID)

			ctx, cancel := context.WithTimeout(cmd.Context(), authTimeout)
			defer cancel()

			pin, err := ptv.GeneratePin(ctx)
			if err != nil {
				return fmt.Errorf("requesting pin: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Open this URL in a browser and sign in:\n\n    %s\n\n", ptv.AuthURL(pin))
			fmt.Fprintln(out, "Waiting for the account link to be confirmed...")

			token, err := ptv.WaitForToken(ctx, pin)
			switch {
			case errors.Is(err, plextv.ErrPinExpired):
				return errors.New("the pin expired before the link was confirmed; run auth again")
			case errors.Is(err, context.DeadlineExceeded):
				return errors.New("timed out waiting for the link to be confirmed")
			case err != nil:
				return fmt.Errorf("waiting for token: %w", err)
			}

			valid, err := ptv.IsTokenValid(ctx, token)
			if err != nil {
				return fmt.Errorf("checking token: %w", err)
			}
			if !valid {
				return errors.New("plex.tv rejected the freshly issued token; run auth again")
			}

			if err := st.SetAuthToken(token); err != nil {
				return fmt.Errorf("saving token: %w", err)
			}

			fmt.Fprintln(out, "Linked. Start the watcher with: introskip run")
			return nil
		},
	}
}
