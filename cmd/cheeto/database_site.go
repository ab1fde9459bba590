package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ucdavis-hpc/cheeto/internal/legacy"
	"github.com/ucdavis-hpc/cheeto/internal/store"
	"github.com/ucdavis-hpc/cheeto/internal/types"
)

// writeFile creates any missing parent directories before writing data to
// path, mirroring config_cmd.go's "write" command convention.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(parentDir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func newDatabaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "database",
		Short: "Manage the canonical store: sites, users, groups, scheduler state, and storage",
	}
	cmd.AddCommand(
		newDatabaseSiteCmd(),
		newDatabaseUserCmd(),
		newDatabaseGroupCmd(),
		newDatabaseSlurmCmd(),
		newDatabaseStorageCmd(),
		newDatabaseIAMCmd(),
	)
	return cmd
}

func newDatabaseSiteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Manage sites",
	}
	cmd.AddCommand(
		newSiteNewCmd(),
		newSiteListCmd(),
		newSiteAddGlobalSlurmCmd(),
		newSiteLoadCmd(),
		newSiteToPuppetCmd(),
		newSiteToLDAPCmd(),
		newSiteToSympaCmd(),
		newSiteRootKeyCmd(),
		newSiteSyncOldPuppetCmd(),
		newSiteSyncNewPuppetCmd(),
	)
	return cmd
}

func newSiteNewCmd() *cobra.Command {
	var fqdn string
	cmd := &cobra.Command{
		Use:   "new SITENAME",
		Short: "Create a new site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			site, err := a.svc.CreateSite(cmd.Context(), args[0], fqdn)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created site %s (%s)\n", site.Sitename, site.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&fqdn, "fqdn", "", "site's fully-qualified domain name")
	return cmd
}

func newSiteListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all sites",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			sites, err := a.svc.Store().ListSites(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range sites {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", s.Sitename, s.FQDN)
			}
			return nil
		},
	}
}

// newSiteAddGlobalSlurmCmd implements "add-global-slurm": attach a global
// group to a site's slurmer-role reference list (§4.2's post-write
// membership-propagation trigger input).
func newSiteAddGlobalSlurmCmd() *cobra.Command {
	var sitename, groupname string
	cmd := &cobra.Command{
		Use:   "add-global-slurm",
		Short: "Add a global group to a site's global-slurmer reference list",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			site, err := a.svc.Store().GetSiteByName(cmd.Context(), sitename)
			if err != nil {
				return err
			}
			group, err := a.svc.Store().GetGlobalGroupByName(cmd.Context(), groupname)
			if err != nil {
				return err
			}
			if err := a.svc.Store().AddGlobalSlurmerGroup(cmd.Context(), site.ID, group.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s as a global slurmer group of %s\n", groupname, sitename)
			return nil
		},
	}
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	cmd.Flags().StringVarP(&groupname, "group", "g", "", "global group name")
	return cmd
}

// mergeStrategyFlag resolves the --merge flag to a types.MergeStrategy.
func mergeStrategyFlag(name string) (types.MergeStrategy, error) {
	switch name {
	case "none":
		return types.MergeNone, nil
	case "prefix":
		return types.MergePrefix, nil
	case "all":
		return types.MergeAll, nil
	default:
		return types.MergeNone, fmt.Errorf("unknown merge strategy %q (want none|prefix|all)", name)
	}
}

// loadLegacyTree runs the full §4.4 import pipeline (lock, merge-load,
// postload validation, then the four-stage import) and returns the merged
// tree for callers that need it afterward (e.g. sync-new-puppet).
func loadLegacyTree(cmd *cobra.Command, a *app, path, sitename, merge string, strict bool) (legacy.AccountMap, error) {
	strategy, err := mergeStrategyFlag(merge)
	if err != nil {
		return legacy.AccountMap{}, err
	}

	repo := legacy.NewRepo(path, strict, a.log)
	unlock, err := repo.Lock(cmd.Context(), 30*time.Second)
	if err != nil {
		return legacy.AccountMap{}, err
	}
	defer unlock()

	if err := repo.Load(strategy); err != nil {
		return legacy.AccountMap{}, err
	}
	if err := repo.PostloadValidate(); err != nil {
		return legacy.AccountMap{}, err
	}

	imp := legacy.NewImporter(a.svc, a.log)
	deferred, err := imp.ImportUsers(cmd.Context(), sitename, repo.Data)
	if err != nil {
		return legacy.AccountMap{}, err
	}
	if err := imp.ImportGroups(cmd.Context(), sitename, repo.Data); err != nil {
		return legacy.AccountMap{}, err
	}
	if err := imp.ImportMemberships(cmd.Context(), sitename, deferred); err != nil {
		return legacy.AccountMap{}, err
	}
	if err := imp.ImportScheduler(cmd.Context(), sitename, repo.Data); err != nil {
		return legacy.AccountMap{}, err
	}

	return repo.Data, nil
}

func newSiteLoadCmd() *cobra.Command {
	var path, sitename, merge string
	var strict bool
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Import a legacy YAML tree into the canonical store",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			data, err := loadLegacyTree(cmd, a, path, sitename, merge, strict)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d users, %d groups into %s\n", len(data.User), len(data.Group), sitename)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "path to the legacy YAML tree root")
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name to import into")
	cmd.Flags().StringVar(&merge, "merge", "prefix", "forest merge strategy: none|prefix|all")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on the first parse/validation error instead of skipping and warning")
	return cmd
}

// exportLegacyTree runs the §4.4 export reverse pass for one site, filling
// in every declared SiteGroup's record alongside ExportSite's users.
func exportLegacyTree(cmd *cobra.Command, a *app, sitename string) (legacy.AccountMap, error) {
	exp := legacy.NewExporter(a.svc)

	data, err := exp.ExportSite(cmd.Context(), sitename)
	if err != nil {
		return data, err
	}

	siteGroups, err := a.svc.Store().ListSiteGroupsBySite(cmd.Context(), sitename)
	if err != nil {
		return data, err
	}
	groupnames := make([]string, len(siteGroups))
	for i, sg := range siteGroups {
		groupnames[i] = sg.Groupname
	}
	groups, err := exp.ExportGroups(cmd.Context(), sitename, groupnames)
	if err != nil {
		return data, err
	}
	data.Group = groups
	return data, nil
}

func newSiteToPuppetCmd() *cobra.Command {
	var path, sitename string
	cmd := &cobra.Command{
		Use:   "to-puppet",
		Short: "Export the canonical store back to the legacy YAML schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			data, err := exportLegacyTree(cmd, a, sitename)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(data)
			if err != nil {
				return err
			}
			return writeFile(path, out)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "destination YAML file")
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name to export")
	return cmd
}

func newSiteToLDAPCmd() *cobra.Command {
	return stubExternalCmd("to-ldap", "full-directory LDAP bulk load (use 'slurm sync'-style per-site reconciliation via the daemon or a future dedicated subcommand)")
}

func newSiteToSympaCmd() *cobra.Command {
	return stubExternalCmd("to-sympa", "mailing-list synchronization (Sympa is a separate external collaborator system)")
}

// newSiteRootKeyCmd implements "root-key": the union of every sudoer and
// sponsor SSH key across a site's groups, one key per line, for seeding a
// host's authorized_keys for root/admin access.
func newSiteRootKeyCmd() *cobra.Command {
	var sitename string
	cmd := &cobra.Command{
		Use:   "root-key",
		Short: "Print the merged admin SSH key set for a site's sudoer/sponsor users",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			siteGroups, err := a.svc.Store().ListSiteGroupsBySite(cmd.Context(), sitename)
			if err != nil {
				return err
			}

			seen := map[string]bool{}
			printKeysFor := func(siteUserID uuid.UUID) error {
				var su store.SiteUser
				if err := a.svc.Store().DB().WithContext(cmd.Context()).First(&su, "id = ?", siteUserID).Error; err != nil {
					return nil
				}
				u, err := a.svc.Store().GetGlobalUserByID(cmd.Context(), su.GlobalUserID)
				if err != nil {
					return nil
				}
				for _, key := range u.SSHKeys {
					if seen[key] {
						continue
					}
					seen[key] = true
					fmt.Fprintln(cmd.OutOrStdout(), key)
				}
				return nil
			}

			for _, sg := range siteGroups {
				for _, m := range sg.Sudoers {
					if err := printKeysFor(m.SiteUserID); err != nil {
						return err
					}
				}
				for _, m := range sg.Sponsors {
					if err := printKeysFor(m.SiteUserID); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	return cmd
}

func newSiteSyncOldPuppetCmd() *cobra.Command {
	return stubExternalCmd("sync-old-puppet", "legacy pre-rewrite puppet repository format, superseded by 'database site load'/'to-puppet'")
}

// newSiteSyncNewPuppetCmd implements "sync-new-puppet": round-trip a legacy
// tree through import then export, to validate merge fidelity before
// trusting a new puppet-repository layout.
func newSiteSyncNewPuppetCmd() *cobra.Command {
	var loadPath, savePath, sitename, merge string
	var strict bool
	cmd := &cobra.Command{
		Use:   "sync-new-puppet",
		Short: "Round-trip import then export the legacy YAML tree (validates merge fidelity)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			if _, err := loadLegacyTree(cmd, a, loadPath, sitename, merge, strict); err != nil {
				return err
			}
			data, err := exportLegacyTree(cmd, a, sitename)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(data)
			if err != nil {
				return err
			}
			if err := writeFile(savePath, out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "round-tripped %s via %s -> %s\n", sitename, loadPath, savePath)
			return nil
		},
	}
	cmd.Flags().StringVar(&loadPath, "load-path", "", "path to the legacy YAML tree root to import")
	cmd.Flags().StringVar(&savePath, "save-path", "", "destination YAML file for the re-exported tree")
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	cmd.Flags().StringVar(&merge, "merge", "prefix", "forest merge strategy: none|prefix|all")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on the first parse/validation error instead of skipping and warning")
	return cmd
}

// stubExternalCmd builds a command that stays in the CLI surface under its
// stable name but whose actual behavior belongs to an out-of-scope external
// collaborator system.
func stubExternalCmd(use, reason string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: "not implemented: external collaborator",
		Annotations: map[string]string{
			"no-bootstrap": "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "not implemented: external collaborator (%s)\n", reason)
			return nil
		},
	}
}
