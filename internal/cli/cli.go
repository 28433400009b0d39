// Package cli provides Aid's command line interface. Per §6, the daemon
// takes no positional arguments beyond a single start action — there is no
// enqueue/status surface, since job submission and introspection belong to
// the upstream system the Aid API serves, not to an operator's terminal.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aidfleet/aid/internal/config"
	"github.com/aidfleet/aid/internal/registry"
	"github.com/aidfleet/aid/internal/supervisor"
	"github.com/aidfleet/aid/pkg/types"
)

// BuildCLI returns the root Aid command.
func BuildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:     "aid",
		Short:   "Aid: fallback dispatch service for the encoding fleet",
		Version: "1.0.0",
	}
	root.AddCommand(buildStartCommand())
	return root
}

func buildStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Boot the Aid process: transport, registry, job store, timeout monitor, and video healer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			sup, err := supervisor.New(cfg)
			if err != nil {
				return fmt.Errorf("build supervisor: %w", err)
			}

			return sup.Run(context.Background())
		},
	}
}

// BuildAdminCLI returns the root command for the encoder-registry admin
// tool: registration and activation are deliberately kept out of the Aid
// API (§3 says Create/SetActive are "admin-only") so a compromised encoder
// can never add or reactivate itself.
func BuildAdminCLI() *cobra.Command {
	var registryPath string
	var token string

	root := &cobra.Command{
		Use:   "aid-admin",
		Short: "Manage Aid's encoder registry",
		Version: "1.0.0",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "list" {
				return nil
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.AdminToken == "" || token != cfg.AdminToken {
				return fmt.Errorf("admin token mismatch: set AID_ADMIN_TOKEN and pass --token")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&registryPath, "registry", "encoders.json", "path to the encoder registry file")
	root.PersistentFlags().StringVar(&token, "token", "", "admin token, must match AID_ADMIN_TOKEN")

	root.AddCommand(buildRegisterCommand(&registryPath))
	root.AddCommand(buildActivateCommand(&registryPath, true))
	root.AddCommand(buildActivateCommand(&registryPath, false))
	root.AddCommand(buildListCommand(&registryPath))
	return root
}

func buildRegisterCommand(registryPath *string) *cobra.Command {
	var did, name, owner string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new encoder",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Open(*registryPath)
			if err != nil {
				return err
			}
			return reg.Create(types.Encoder{
				EncoderID: types.EncoderDID(did),
				Name:      name,
				Owner:     owner,
				IsActive:  true,
				CreatedAt: time.Now(),
			})
		},
	}
	cmd.Flags().StringVar(&did, "did", "", "encoder DID")
	cmd.Flags().StringVar(&name, "name", "", "encoder display name")
	cmd.Flags().StringVar(&owner, "owner", "", "encoder owner")
	cmd.MarkFlagRequired("did")
	return cmd
}

func buildActivateCommand(registryPath *string, active bool) *cobra.Command {
	use := "deactivate"
	short := "Deactivate an encoder"
	if active {
		use = "activate"
		short = "Activate an encoder"
	}
	var did string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Open(*registryPath)
			if err != nil {
				return err
			}
			return reg.SetActive(types.EncoderDID(did), active)
		},
	}
	cmd.Flags().StringVar(&did, "did", "", "encoder DID")
	cmd.MarkFlagRequired("did")
	return cmd
}

func buildListCommand(registryPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered encoders",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Open(*registryPath)
			if err != nil {
				return err
			}
			for _, enc := range reg.List() {
				fmt.Printf("%s\t%s\t%s\tactive=%v\n", enc.EncoderID, enc.Name, enc.Owner, enc.IsActive)
			}
			return nil
		},
	}
}
