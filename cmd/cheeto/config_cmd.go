package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ucdavis-hpc/cheeto/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or write the cheeto configuration file",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigWriteCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration for the active profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			out, err := yaml.Marshal(a.cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newConfigWriteCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write the default config template to disk",
		Annotations: map[string]string{
			"no-bootstrap": "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s: %w", path, os.ErrExist)
			}
			if err := os.MkdirAll(parentDir(path), 0755); err != nil {
				return err
			}
			return os.WriteFile(path, []byte(defaultConfigTemplate), 0600)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "destination path (default: $XDG_CONFIG_HOME/cheeto/config.yaml)")
	return cmd
}

func parentDir(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	if i <= 0 {
		return "."
	}
	return path[:i]
}

const defaultConfigTemplate = `# cheeto configuration. Profiles key the ldap/store sub-maps.
ldap:
  default:
    servers: ["ldaps://ldap.example.edu"]
    searchbase: "dc=example,dc=edu"
store:
  default:
    driver: sqlite
    dsn: ./cheeto.db
hippo:
  api_key: ""
  base_url: "https://hippo.example.edu/api"
ucdiam:
  api_key: ""
  base_url: "https://iam.example.edu/api"
slurm:
  sacctmgr_path: /usr/bin/sacctmgr
daemon:
  hippo_schedule: ""
  directory_schedule: ""
  slurm_schedule: ""
  iam_schedule: ""
`
