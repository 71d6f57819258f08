package main

import (
	"fmt"
	"os"
	"time"

	"github.com/MarcoPoloResearchLab/kore/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/codification"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/config"
	"github.com/MarcoPoloResearchLab/kore/backend/internal/digest"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newTokenCommand mints a session token accepted by the API, for scripts and smoke tests.
func newTokenCommand() *cobra.Command {
	var (
		userID      string
		displayName string
		email       string
		ttl         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a TAuth-compatible session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.TAuthSigningKey),
				Issuer:        appConfig.TAuthIssuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, _, err := issuer.Issue(auth.SessionSubject{UserID: userID, DisplayName: displayName, Email: email})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "User identifier carried by the token")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Display name carried by the token")
	cmd.Flags().StringVar(&email, "email", "", "Email carried by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func newHashCommand() *cobra.Command {
	var display bool
	cmd := &cobra.Command{
		Use:   "hash FILE",
		Short: "Print the SHA-256 fingerprint of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()
			value, err := digest.HashReader(file)
			if err != nil {
				return err
			}
			if display {
				value = digest.Display(value)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", value, args[0])
			return err
		},
	}
	cmd.Flags().BoolVar(&display, "display", false, "Print the uppercase display form")
	return cmd
}

// newDocNumberCommand composes a document number offline. The project number is either given
// directly or built from its positional fields.
func newDocNumberCommand() *cobra.Command {
	var (
		parts   codification.Parts
		project codification.ProjectCode
	)
	cmd := &cobra.Command{
		Use:   "docnumber",
		Short: "Compose and validate a document number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if parts.Project == "" && project.Centre != "" {
				built, err := codification.BuildProjectNumber(project)
				if err != nil {
					return err
				}
				parts.Project = built
			}
			number, err := codification.BuildDocumentNumber(parts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), number)
			return err
		},
	}
	cmd.Flags().StringVar(&parts.Project, "project", "", "Project number")
	cmd.Flags().StringVar(&project.Centre, "centre", "", "Project centre code (one character)")
	cmd.Flags().StringVar(&project.Distinctif, "distinctif", "", "Project distinctive code (one character)")
	cmd.Flags().StringVar(&project.Annee, "annee", "", "Project year code (one character)")
	cmd.Flags().IntVar(&project.Ordre, "ordre", 0, "Project order number")
	cmd.Flags().StringVar(&parts.Emitter, "emitter", "", "Emitter code")
	cmd.Flags().StringVar(&parts.Unit, "unit", "", "Unit code")
	cmd.Flags().StringVar(&parts.Discipline, "discipline", "", "Discipline code")
	cmd.Flags().IntVar(&parts.Sequence, "sequence", 1, "Sequence number")
	cmd.Flags().StringVar(&parts.Suffix, "suffix", "", "Suffix code")
	return cmd
}
