package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/reliefops/incidenttrust/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trustctl",
	Short: "Incident trust ledger CLI",
	Long: `trustctl is the command-line interface for the incident trust service.

It records audit events on incident timelines, verifies and exports
tamper-evident reports, and drives the multi-signature approval workflow
for critical actions.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.trustctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.trustctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "trustd base URL (default http://localhost:8080)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(anchorCmd)
	rootCmd.AddCommand(proposeCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(proposalsCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds an SDK client carrying the session token from config/env.
func newClient() *client.Client {
	opts := []client.Option{client.WithTimeout(15 * time.Second)}
	if tok := viper.GetString("token"); tok != "" {
		opts = append(opts, client.WithBearerToken(tok))
	}
	return client.New(serverURL, opts...)
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// ── login ────────────────────────────────────────────────────────────────────

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Authenticate and print a session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := os.Getenv("TRUSTCTL_PASSWORD")
		if password == "" {
			return fmt.Errorf("set TRUSTCTL_PASSWORD to authenticate")
		}

		ctx, cancel := cmdContext()
		defer cancel()

		c := client.New(serverURL)
		op, err := c.Login(ctx, args[0], password)
		if err != nil {
			return err
		}
		fmt.Printf("logged in as %s (%s)\n", op.Handle, op.Role)
		fmt.Println("store the token below as 'token:' in ~/.trustctl/config.yaml or TOKEN env var")
		tok, _ := c.Token()
		fmt.Println(tok)
		return nil
	},
}

// ── append / events ──────────────────────────────────────────────────────────

var appendDetails string

var appendCmd = &cobra.Command{
	Use:   "append <incident-id> <action>",
	Short: "Record an audit event on an incident timeline",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		event, err := newClient().AppendEvent(ctx, args[0], args[1], appendDetails)
		if err != nil {
			return err
		}
		fmt.Printf("recorded %s by %s at %s\n", event.Action, event.Actor, event.Timestamp.Format(time.RFC3339))
		return nil
	},
}

var eventsActor string

var eventsCmd = &cobra.Command{
	Use:   "events <incident-id>",
	Short: "List an incident's audit events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		events, err := newClient().Events(ctx, args[0], eventsActor)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tACTOR\tACTION\tDETAILS")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Actor, e.Action, e.Details)
		}
		return w.Flush()
	},
}

// ── verify / export / anchor ─────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify <incident-id>",
	Short: "Check a timeline's tamper-evidence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		valid, err := newClient().Verify(ctx, args[0])
		if err != nil {
			return err
		}
		if !valid {
			fmt.Printf("%s: INVALID, stored root does not match recomputed root\n", args[0])
			os.Exit(1)
		}
		fmt.Printf("%s: valid\n", args[0])
		return nil
	},
}

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <incident-id>",
	Short: "Download an incident's audit report as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		report, err := newClient().Export(ctx, args[0])
		if err != nil {
			return err
		}

		out := os.Stdout
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

var anchorCmd = &cobra.Command{
	Use:   "anchor <incident-id>",
	Short: "Commit the incident's current root to the external anchor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		receipt, err := newClient().Anchor(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("anchored root %s\n  tx:    %s\n  block: %d\n", receipt.RootHash, receipt.TxHash, receipt.BlockNumber)
		return nil
	},
}

// ── proposals ────────────────────────────────────────────────────────────────

var (
	proposeIncident string
	proposeAmount   string
	proposeCurrency string
	proposeRequired int
)

var proposeCmd = &cobra.Command{
	Use:   "propose <type> <description>",
	Short: "Create a multi-signature proposal (fund_release, evacuation, lockdown, transaction)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		p, err := newClient().Propose(ctx, client.ProposeRequest{
			Type:        args[0],
			Description: args[1],
			IncidentID:  proposeIncident,
			Amount:      proposeAmount,
			Currency:    proposeCurrency,
			Required:    proposeRequired,
		})
		if err != nil {
			return err
		}
		fmt.Printf("proposal %s created (%d/%d signatures)\n", p.ID, p.Signatures, p.Required)
		return nil
	},
}

var signCmd = &cobra.Command{
	Use:   "sign <proposal-id>",
	Short: "Sign a pending proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		p, err := newClient().SignProposal(ctx, args[0])
		if err != nil {
			return err
		}
		if p.Status == "approved" {
			fmt.Printf("proposal approved, execution hash %s\n", p.ExecutionHash)
			return nil
		}
		fmt.Printf("signed (%d/%d)\n", p.Signatures, p.Required)
		return nil
	},
}

var rejectReason string

var rejectCmd = &cobra.Command{
	Use:   "reject <proposal-id>",
	Short: "Reject a pending proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		p, err := newClient().RejectProposal(ctx, args[0], rejectReason)
		if err != nil {
			return err
		}
		fmt.Printf("proposal %s rejected\n", p.ID)
		return nil
	},
}

var (
	proposalsIncident string
	proposalsStatus   string
)

var proposalsCmd = &cobra.Command{
	Use:   "proposals",
	Short: "List proposals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		list, err := newClient().ListProposals(ctx, proposalsIncident, proposalsStatus)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tSIGS\tINCIDENT\tDESCRIPTION")
		for _, p := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
				p.ID, p.Type, p.Status, p.Signatures, p.Required, p.IncidentID, p.Description)
		}
		return w.Flush()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the trustctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("trustctl", version)
	},
}

func init() {
	appendCmd.Flags().StringVarP(&appendDetails, "details", "d", "", "event details")
	eventsCmd.Flags().StringVar(&eventsActor, "actor", "", "filter by actor handle")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write report to file instead of stdout")
	proposeCmd.Flags().StringVarP(&proposeIncident, "incident", "i", "", "incident id (makes this a critical action)")
	proposeCmd.Flags().StringVar(&proposeAmount, "amount", "", "amount for fund_release/transaction")
	proposeCmd.Flags().StringVar(&proposeCurrency, "currency", "", "currency code")
	proposeCmd.Flags().IntVar(&proposeRequired, "required", 0, "signature threshold (0 = server default)")
	rejectCmd.Flags().StringVarP(&rejectReason, "reason", "r", "", "rejection reason")
	proposalsCmd.Flags().StringVarP(&proposalsIncident, "incident", "i", "", "filter by incident id")
	proposalsCmd.Flags().StringVar(&proposalsStatus, "status", "", "filter by status")
}
