package cli

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/leonaii/kirocloud/internal/config"
	kiroerrors "github.com/leonaii/kirocloud/internal/errors"
	"github.com/leonaii/kirocloud/internal/store"
)

// doctorCmd represents the doctor command
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose configuration problems",
	Long: `Check the configuration file, data directory, and machine identity
without touching the network, and report what the engine would use.

Example:
  kirocloud doctor`,
	RunE: runDoctor,
}

func init() {
	RootCmd.AddCommand(doctorCmd)
}

// DoctorCheck is one diagnostic line.
type DoctorCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // ok, warn, fail
	Details string `json:"details,omitempty"`
}

// DoctorReport is the full diagnostic output.
type DoctorReport struct {
	Timestamp time.Time     `json:"timestamp"`
	Checks    []DoctorCheck `json:"checks"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	report := DoctorReport{Timestamp: time.Now().UTC()}

	cfg := config.Default()
	loader := config.NewLoader(globalFlags.Config)
	if loaded, err := loader.Load(); err != nil {
		var notFound *kiroerrors.ErrConfigNotFound
		if errors.As(err, &notFound) {
			report.Checks = append(report.Checks, DoctorCheck{
				Name: "config file", Status: "warn",
				Details: fmt.Sprintf("%s not found, built-in defaults in effect", globalFlags.Config),
			})
		} else {
			report.Checks = append(report.Checks, DoctorCheck{
				Name: "config file", Status: "fail", Details: err.Error(),
			})
		}
	} else {
		cfg = loaded
		report.Checks = append(report.Checks, DoctorCheck{
			Name: "config file", Status: "ok", Details: globalFlags.Config,
		})
	}

	if err := cfg.Validate(); err != nil {
		report.Checks = append(report.Checks, DoctorCheck{Name: "config validation", Status: "fail", Details: err.Error()})
	} else {
		report.Checks = append(report.Checks, DoctorCheck{Name: "config validation", Status: "ok"})
	}

	report.Checks = append(report.Checks,
		DoctorCheck{Name: "rpc endpoint", Status: "ok", Details: cfg.RPC.BaseURL},
		DoctorCheck{Name: "oidc endpoint", Status: "ok", Details: cfg.OIDC.BaseURL()},
		DoctorCheck{Name: "auth service", Status: "ok", Details: cfg.Social.BaseURL},
		DoctorCheck{Name: "runtime", Status: "ok", Details: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)},
	)

	if info, err := os.Stat(cfg.App.DataDir); err != nil {
		report.Checks = append(report.Checks, DoctorCheck{
			Name: "data dir", Status: "warn",
			Details: fmt.Sprintf("%s missing, will be created on first use", cfg.App.DataDir),
		})
	} else if !info.IsDir() {
		report.Checks = append(report.Checks, DoctorCheck{
			Name: "data dir", Status: "fail", Details: cfg.App.DataDir + " is not a directory",
		})
	} else {
		report.Checks = append(report.Checks, DoctorCheck{Name: "data dir", Status: "ok", Details: cfg.App.DataDir})
	}

	if id, err := store.NewFileMachineID(cfg.App.DataDir).MachineID(); err != nil {
		report.Checks = append(report.Checks, DoctorCheck{Name: "machine id", Status: "fail", Details: err.Error()})
	} else {
		report.Checks = append(report.Checks, DoctorCheck{Name: "machine id", Status: "ok", Details: id})
	}

	if globalFlags.JSON {
		return printJSON(report)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	failed := false
	for _, check := range report.Checks {
		fmt.Fprintf(w, "%s\t%s\t%s\n", check.Status, check.Name, check.Details)
		if check.Status == "fail" {
			failed = true
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed {
		return fmt.Errorf("diagnostics reported failures")
	}
	return nil
}
