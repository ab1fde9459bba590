package main

import "github.com/spf13/cobra"

// These three subcommands name external-collaborator functionality that is
// explicitly out of scope for this control plane: host-provisioning
// YAML-template rendering, power-telemetry polling, and puppet's own
// validation tooling. They're kept in the CLI tree as stable names but never
// bootstrap the store.

func newNocloudCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "nocloud", Short: "Host-provisioning template rendering (external collaborator)"}
	cmd.AddCommand(stubExternalCmd("render", "YAML-template rendering for host provisioning is owned by a separate provisioning tool"))
	return cmd
}

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "monitor", Short: "Host telemetry (external collaborator)"}
	cmd.AddCommand(stubExternalCmd("power", "power-telemetry polling is owned by a separate monitoring tool"))
	return cmd
}

func newPuppetCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "puppet", Short: "Puppet manifest tooling (external collaborator)"}
	cmd.AddCommand(stubExternalCmd("validate", "puppet manifest validation, outside the legacy YAML import/export surface this module owns"))
	return cmd
}
