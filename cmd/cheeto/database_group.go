package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ucdavis-hpc/cheeto/internal/store"
)

func newDatabaseGroupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage groups",
	}
	add := &cobra.Command{Use: "add", Short: "Add a role member or site membership to a group"}
	add.AddCommand(
		newGroupAddRoleCmd("member", store.RoleMember),
		newGroupAddRoleCmd("sponsor", store.RoleSponsor),
		newGroupAddRoleCmd("sudoer", store.RoleSudoer),
		newGroupAddRoleCmd("slurmer", store.RoleSlurmer),
		newGroupAddSiteCmd(),
	)
	remove := &cobra.Command{Use: "remove", Short: "Remove a role member or site membership from a group"}
	remove.AddCommand(
		newGroupRemoveRoleCmd("member", store.RoleMember),
		newGroupRemoveRoleCmd("sponsor", store.RoleSponsor),
		newGroupRemoveRoleCmd("sudoer", store.RoleSudoer),
		newGroupRemoveRoleCmd("slurmer", store.RoleSlurmer),
	)

	newCmd := &cobra.Command{Use: "new", Short: "Create a group"}
	newCmd.AddCommand(newGroupNewSystemCmd(), newGroupNewClassCmd(), newGroupNewLabCmd())

	cmd.AddCommand(
		newGroupShowCmd(),
		newCmd,
		add,
		remove,
	)
	return cmd
}

func newGroupShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show GROUPNAME",
		Short: "Show a global group's name, gid, and type (site memberships are not listed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			g, err := a.svc.Store().GetGlobalGroupByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tgid=%d\ttype=%s\n", g.Groupname, g.GID, g.Type)
			return nil
		},
	}
}

func newGroupNewSystemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "system GROUPNAME",
		Short: "Create a new system group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			g, err := a.svc.CreateSystemGroup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created system group %s gid=%d\n", g.Groupname, g.GID)
			return nil
		},
	}
}

func newGroupNewClassCmd() *cobra.Command {
	var numAccounts int
	var sponsor, emailDomain string
	cmd := &cobra.Command{
		Use:   "class GROUPNAME",
		Short: "Create a class group and its bulk student accounts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			g, creds, err := a.svc.CreateClassGroup(cmd.Context(), args[0], numAccounts, sponsor, emailDomain)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created class group %s gid=%d\n", g.Groupname, g.GID)
			for _, c := range creds {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", c.Username, c.Password)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&numAccounts, "accounts", 0, "number of student accounts to create")
	cmd.Flags().StringVar(&sponsor, "sponsor", "", "sponsoring instructor username")
	cmd.Flags().StringVar(&emailDomain, "email-domain", "", "email domain for generated student accounts")
	return cmd
}

func newGroupNewLabCmd() *cobra.Command {
	var sitename, sponsor string
	cmd := &cobra.Command{
		Use:   "lab",
		Short: "Create a sponsor-derived lab group (sponsor group auto-naming, §9 glossary)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			u, err := a.svc.Store().GetGlobalUserByUsername(cmd.Context(), sponsor)
			if err != nil {
				return err
			}
			g, err := a.svc.CreateGroupFromSponsor(cmd.Context(), sitename, u)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created lab group %s gid=%d\n", g.Groupname, g.GID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	cmd.Flags().StringVar(&sponsor, "sponsor", "", "sponsoring user's username")
	return cmd
}

func newGroupAddRoleCmd(use string, role store.RoleTable) *cobra.Command {
	var sitename string
	cmd := &cobra.Command{
		Use:   use + " GROUPNAME USERNAME",
		Short: fmt.Sprintf("Add a %s to a group", use),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			return a.svc.GroupMutateRole(cmd.Context(), sitename, []string{args[0]}, []string{args[1]}, role, true)
		},
	}
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	return cmd
}

func newGroupRemoveRoleCmd(use string, role store.RoleTable) *cobra.Command {
	var sitename string
	cmd := &cobra.Command{
		Use:   use + " GROUPNAME USERNAME",
		Short: fmt.Sprintf("Remove a %s from a group", use),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			return a.svc.GroupMutateRole(cmd.Context(), sitename, []string{args[0]}, []string{args[1]}, role, false)
		},
	}
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	return cmd
}

func newGroupAddSiteCmd() *cobra.Command {
	var groupname, sitename string
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Add a global group to a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			g, err := a.svc.Store().GetGlobalGroupByName(cmd.Context(), groupname)
			if err != nil {
				return err
			}
			site, err := a.svc.Store().GetSiteByName(cmd.Context(), sitename)
			if err != nil {
				return err
			}
			sg := &store.SiteGroup{SiteID: site.ID, Sitename: sitename, GlobalGroupID: g.ID, Groupname: groupname}
			if err := a.svc.Store().CreateSiteGroup(cmd.Context(), sg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s to %s\n", groupname, sitename)
			return nil
		},
	}
	cmd.Flags().StringVarP(&groupname, "group", "g", "", "group name")
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	return cmd
}
