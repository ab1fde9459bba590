package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ucdavis-hpc/cheeto/internal/store"
)

func newDatabaseUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	set := &cobra.Command{Use: "set", Short: "Mutate a single user field"}
	set.AddCommand(newUserSetStatusCmd(), newUserSetShellCmd(), newUserSetPasswordCmd(), newUserSetTypeCmd())
	add := &cobra.Command{Use: "add", Short: "Add an access type or site membership to a user"}
	add.AddCommand(newUserAddAccessCmd(), newUserAddSiteCmd())
	remove := &cobra.Command{Use: "remove", Short: "Remove an access type or site membership from a user"}
	remove.AddCommand(newUserRemoveAccessCmd(), newUserRemoveSiteCmd())
	newCmd := &cobra.Command{Use: "new", Short: "Create a user"}
	newCmd.AddCommand(newUserNewSystemCmd())

	cmd.AddCommand(
		newUserShowCmd(),
		newCmd,
		set,
		newUserGeneratePasswordsCmd(),
		add,
		remove,
		newUserGroupsCmd(),
		newUserIndexCmd(),
	)
	return cmd
}

func newUserShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show USERNAME",
		Short: "Show a global user and their site memberships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			u, err := a.svc.Store().GetGlobalUserByUsername(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tuid=%d\ttype=%s\tstatus=%s\temail=%s\n",
				u.Username, u.UID, u.Type, u.Status, u.Email)
			sites, err := a.svc.Store().ListSiteUsersByGlobalUser(cmd.Context(), u.ID)
			if err != nil {
				return err
			}
			for _, su := range sites {
				fmt.Fprintf(cmd.OutOrStdout(), "  site=%s status=%s\n", su.Sitename, su.EffectiveStatus(u.Status))
			}
			return nil
		},
	}
}

func newUserNewSystemCmd() *cobra.Command {
	var email, fullname string
	cmd := &cobra.Command{
		Use:   "system USERNAME",
		Short: "Create a new system user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			u, err := a.svc.CreateSystemUser(cmd.Context(), args[0], email, fullname, store.NewUserOptions{})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created system user %s uid=%d\n", u.Username, u.UID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&fullname, "fullname", "", "user full name")
	return cmd
}

func newUserSetStatusCmd() *cobra.Command {
	var reason, sitename string
	cmd := &cobra.Command{
		Use:   "status USERNAME STATUS",
		Short: "Set a user's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			return a.svc.SetUserStatus(cmd.Context(), args[0], args[1], reason, sitename)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason for the status change")
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "restrict the status change to one site")
	return cmd
}

func newUserSetShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell USERNAME SHELL",
		Short: "Set a user's login shell",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			return a.svc.SetUserShell(cmd.Context(), args[0], args[1])
		},
	}
}

func newUserSetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "password USERNAME PASSWORD",
		Short: "Set a user's password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			return a.svc.SetUserPassword(cmd.Context(), args[0], args[1])
		},
	}
}

func newUserSetTypeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "type USERNAME TYPE",
		Short: "Set a user's type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			return a.svc.SetUserType(cmd.Context(), args[0], args[1])
		},
	}
}

func newUserGeneratePasswordsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-passwords USERNAME...",
		Short: "Generate and set a random password for each given user",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			for _, username := range args {
				password := store.GenerateClassPassword()
				if err := a.svc.SetUserPassword(cmd.Context(), username, password); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", username, password)
			}
			return nil
		},
	}
}

func newUserAddAccessCmd() *cobra.Command {
	var sitename string
	cmd := &cobra.Command{
		Use:   "access USERNAME ACCESS",
		Short: "Add an access type to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			return a.svc.AddUserAccess(cmd.Context(), args[0], args[1], sitename)
		},
	}
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	return cmd
}

func newUserRemoveAccessCmd() *cobra.Command {
	var sitename string
	cmd := &cobra.Command{
		Use:   "access USERNAME ACCESS",
		Short: "Remove an access type from a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			return a.svc.RemoveUserAccess(cmd.Context(), args[0], args[1], sitename)
		},
	}
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	return cmd
}

func newUserAddSiteCmd() *cobra.Command {
	var username, sitename string
	var createStorage bool
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Add a global user to a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			u, err := a.svc.Store().GetGlobalUserByUsername(cmd.Context(), username)
			if err != nil {
				return err
			}
			su, err := a.svc.AddSiteUser(cmd.Context(), sitename, u)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s to %s\n", su.Username, sitename)
			if createStorage {
				st, err := a.svc.CreateHomeStorage(cmd.Context(), sitename, username, nil)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created home storage %s\n", st.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "", "username")
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	cmd.Flags().BoolVar(&createStorage, "create-storage", false, "also create the user's home storage at this site")
	return cmd
}

func newUserRemoveSiteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "site USERNAME SITENAME",
		Short: "not implemented: site-membership removal (cascading delete path, see DESIGN.md)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("database user remove site: not yet implemented")
		},
	}
}

func newUserGroupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups USERNAME",
		Short: "List a user's scheduler-visible group associations per site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			sites, err := a.svc.Store().ListSites(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range sites {
				assocs, err := a.svc.QueryUserSlurm(cmd.Context(), s.Sitename, args[0])
				if err != nil {
					continue
				}
				for _, assoc := range assocs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tgroup=%s\tpartition=%s\tqos=%s\n",
						s.Sitename, assoc.GroupID, assoc.PartitionID, assoc.QOSID)
				}
			}
			return nil
		},
	}
}

func newUserIndexCmd() *cobra.Command {
	var sitename string
	cmd := &cobra.Command{
		Use:   "index QUERY",
		Short: "Search users by the n-gram prefix/infix scoring index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			users, err := a.svc.SearchUsers(cmd.Context(), args[0], sitename)
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", u.Username, u.Fullname)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "restrict results to one site")
	return cmd
}
