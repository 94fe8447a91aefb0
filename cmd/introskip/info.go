package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"introskip/internal/models"
	"introskip/internal/version"
)

func newInfoCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the stored identity and server",
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

			tokenLine := "no"
			switch token, err := st.AuthToken(); {
			case err != nil:
				tokenLine = fmt.Sprintf("unreadable (%v)", err)
			case token != "":
				tokenLine = "yes"
			}

			serverLine := "none saved"
			switch srv, err := st.Server(); {
			case err == nil:
				serverLine = fmt.Sprintf("%s (%s)", srv.Name, srv.URL)
			case !errors.Is(err, models.ErrNotFound):
				serverLine = fmt.Sprintf("unreadable (%v)", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-11s %s %s\n", "version", version.Product, version.Version)
			fmt.Fprintf(out, "%-11s %s\n", "database", root.dbPath)
			fmt.Fprintf(out, "%-11s %s\n", "app id", appID)
			fmt.Fprintf(out, "%-11s %s\n", "auth token", tokenLine)
			fmt.Fprintf(out, "%-11s %s\n", "server", serverLine)
			return nil
		},
	}
}
