// Command lk is a CLI client for the keyledger license server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/keyledger/internal/client"
	"github.com/and161185/keyledger/internal/config"
	"github.com/and161185/keyledger/internal/keystore"
	"github.com/and161185/keyledger/internal/licensekey"
	"github.com/and161185/keyledger/internal/model"
	"github.com/and161185/keyledger/internal/sysinfo"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// errNotLicensed makes the process exit non-zero after the result was printed.
var errNotLicensed = errors.New("not licensed")

// app carries configuration shared by all subcommands.
type app struct {
	cfg config.Client
	log *zap.Logger
	out io.Writer
}

func (a *app) signer() *licensekey.Signer {
	return licensekey.NewSigner([]byte(a.cfg.Secret), nil)
}

func (a *app) api() *client.HTTPClient {
	return client.NewHTTPClient(a.cfg.ServerURL, a.cfg.Timeout, a.log.Named("api"))
}

func (a *app) validator() *client.Validator {
	api := a.api()
	return client.NewValidator(a.signer(), api,
		client.ServerCores{API: api, Fallback: sysinfo.Probe{}},
		client.WithLogger(a.log.Named("validator")),
	)
}

func (a *app) store() *keystore.File {
	return keystore.NewFile(a.cfg.StateDir, []byte(a.cfg.Secret))
}

func (a *app) session() *client.Session {
	return client.NewSession(a.validator(), a.store(), a.log.Named("session"))
}

func (a *app) printJSON(v any) {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// report prints info and turns an unusable result into errNotLicensed.
func (a *app) report(info model.LicenseInfo) error {
	a.printJSON(info)
	if !info.IsValid || info.Expired() {
		return errNotLicensed
	}
	return nil
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out, log: zap.NewNop()}

	root := &cobra.Command{
		Use:           "lk",
		Short:         "License key client for keyledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if f.Changed("server") {
				cfg.ServerURL, _ = f.GetString("server")
			}
			if f.Changed("state-dir") {
				cfg.StateDir, _ = f.GetString("state-dir")
			}
			if f.Changed("timeout") {
				cfg.Timeout, _ = f.GetDuration("timeout")
			}
			if f.Changed("dev") {
				cfg.Dev, _ = f.GetBool("dev")
			}
			if cmd.Name() == "version" {
				a.cfg = cfg
				return nil
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a.cfg = cfg
			if cfg.Dev {
				if l, err := zap.NewDevelopment(); err == nil {
					a.log = l
				}
			}
			return nil
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.String("server", "", "license server base URL (KEYLEDGER_SERVER_URL)")
	pf.String("state-dir", "", "directory for the stored key (KEYLEDGER_STATE_DIR)")
	pf.Duration("timeout", 0, "per-request timeout (KEYLEDGER_TIMEOUT)")
	pf.Bool("dev", false, "verbose development logging")

	root.AddCommand(
		versionCmd(a),
		validateCmd(a),
		activateCmd(a),
		checkCmd(a),
		statusCmd(a),
		verifyCmd(a),
		coresCmd(a),
		clearCmd(a),
		keygenCmd(a),
	)
	return root
}

func versionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.out, "lk %s (%s)\n", version, buildDate)
		},
	}
}

func validateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate KEY",
		Short: "Validate a key against the server without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.report(a.validator().ValidateKey(cmd.Context(), args[0]))
		},
	}
}

func activateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "activate KEY",
		Short: "Validate a key, credit it on the server and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.report(a.session().SetKey(cmd.Context(), args[0]))
		},
	}
}

func checkCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Re-validate the stored key, or the server record when none is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := a.session()
			if !s.HasKey() {
				return a.report(s.Initialize(cmd.Context()))
			}
			return a.report(s.ValidateCurrent(cmd.Context()))
		},
	}
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Evaluate the server activation record without a key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.report(a.validator().CheckServerStatus(cmd.Context()))
		},
	}
}

// verifyOutput is the offline view of a key.
type verifyOutput struct {
	Key       string    `json:"key"`
	Valid     bool      `json:"valid"`
	MaxCores  int       `json:"maxCores,omitempty"`
	LicenseID string    `json:"licenseId,omitempty"`
	IssuedAt  time.Time `json:"issuedAt,omitempty"`
	Hash      string    `json:"hash,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func verifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify KEY",
		Short: "Check a key offline without contacting the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			s := a.signer()
			out := verifyOutput{Key: licensekey.Format(args[0])}
			ent, err := s.Verify(args[0])
			if err != nil {
				var ke *licensekey.Error
				if errors.As(err, &ke) {
					out.Error = ke.Reason.Message()
				} else {
					out.Error = err.Error()
				}
				a.printJSON(out)
				return errNotLicensed
			}
			out.Valid = true
			out.MaxCores = ent.MaxCores
			out.LicenseID = ent.LicenseID
			out.IssuedAt = ent.IssuedAt
			out.Hash = licensekey.Hash(s.Primitives(), args[0])
			a.printJSON(out)
			return nil
		},
	}
}

func coresCmd(a *app) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "cores",
		Short: "Show the CPU core count used for license checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var src client.CoreSource = client.ServerCores{API: a.api(), Fallback: sysinfo.Probe{}}
			if local {
				src = client.LocalCores{Counter: sysinfo.Probe{}}
			}
			n, warning := src.Cores(cmd.Context())
			a.printJSON(map[string]any{"cores": n, "warning": warning})
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "probe this machine instead of asking the server")
	return cmd
}

func clearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget the stored key",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if err := a.session().Clear(); err != nil {
				return err
			}
			a.printJSON(map[string]string{"cleared": a.store().Path()})
			return nil
		},
	}
}

func keygenCmd(a *app) *cobra.Command {
	var (
		cores  int
		id     uint16
		issued string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Issue a signed key (requires the server secret)",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			at := time.Now().UTC()
			if issued != "" {
				t, err := time.Parse(time.DateOnly, issued)
				if err != nil {
					return fmt.Errorf("issued: %w", err)
				}
				at = t
			}
			key, err := a.signer().Issue(licensekey.Claims{Cores: cores, LicenseID: id, IssuedAt: at})
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, key)
			return nil
		},
	}
	cmd.Flags().IntVar(&cores, "cores", 1, "maximum CPU cores")
	cmd.Flags().Uint16Var(&id, "id", 0, "license id")
	cmd.Flags().StringVar(&issued, "issued", "", "issue date YYYY-MM-DD (default today)")
	return cmd
}

func main() {
	ctx := context.Background()
	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errNotLicensed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}
