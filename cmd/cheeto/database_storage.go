package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ucdavis-hpc/cheeto/internal/legacy"
	"github.com/ucdavis-hpc/cheeto/internal/store"
)

func newDatabaseStorageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Manage storage mounts and mount sources",
	}
	newCmd := &cobra.Command{Use: "new", Short: "Create a storage mount or source collection"}
	newCmd.AddCommand(newStorageNewStorageCmd(), newStorageNewCollectionCmd())
	edit := &cobra.Command{Use: "edit", Short: "Edit a storage source"}
	edit.AddCommand(newStorageEditSourceCmd())

	cmd.AddCommand(
		newStorageShowCmd(),
		newCmd,
		edit,
		newStorageToPuppetCmd(),
	)
	return cmd
}

func newStorageShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show a storage mount and its bound source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			st, err := a.svc.Store().GetStorageByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tsource=%s\tglobus=%t\n", st.Name, st.SourceID, st.Globus)
			return nil
		},
	}
}

func newStorageNewStorageCmd() *cobra.Command {
	var sitename, host, hostPath, owner, group, kind, quota, options string
	var globus bool
	cmd := &cobra.Command{
		Use:   "storage NAME",
		Short: "Create a new named storage mount with its own NFS/ZFS source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			site, err := a.svc.Store().GetSiteByName(cmd.Context(), sitename)
			if err != nil {
				return err
			}
			var opts store.StringList
			if options != "" {
				opts = store.StringList(strings.Split(options, ","))
			}
			source := &store.StorageMountSource{
				SiteID: site.ID, Kind: kind, Host: host, HostPath: hostPath,
				Owner: owner, Group: group, Options: opts, Quota: quota,
			}
			if err := a.svc.Store().CreateStorageMountSource(cmd.Context(), source); err != nil {
				return err
			}
			st := &store.Storage{Name: args[0], SourceID: source.ID, Globus: globus}
			if err := a.svc.Store().CreateStorage(cmd.Context(), st); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created storage %s\n", st.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	cmd.Flags().StringVar(&host, "host", "", "NFS host")
	cmd.Flags().StringVar(&hostPath, "path", "", "export path on host")
	cmd.Flags().StringVar(&owner, "owner", "", "owning username")
	cmd.Flags().StringVar(&group, "group", "", "owning group")
	cmd.Flags().StringVar(&kind, "kind", "nfs", "nfs|zfs")
	cmd.Flags().StringVar(&quota, "quota", "", "zfs quota, e.g. 1T")
	cmd.Flags().StringVar(&options, "options", "", "comma-separated mount options")
	cmd.Flags().BoolVar(&globus, "globus", false, "expose this storage via Globus")
	return cmd
}

func newStorageNewCollectionCmd() *cobra.Command {
	var sitename, kind, defaultHost, prefix, quota, options string
	cmd := &cobra.Command{
		Use:   "collection NAME",
		Short: "Create a source collection (a shared prefix of like-configured mount sources)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			site, err := a.svc.Store().GetSiteByName(cmd.Context(), sitename)
			if err != nil {
				return err
			}
			var opts store.StringList
			if options != "" {
				opts = store.StringList(strings.Split(options, ","))
			}
			c := &store.SourceCollection{
				SiteID: site.ID, Name: args[0], Kind: kind,
				DefaultHost: defaultHost, Prefix: prefix, Quota: quota, Options: opts,
			}
			if err := a.svc.Store().CreateSourceCollection(cmd.Context(), c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created source collection %s\n", c.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	cmd.Flags().StringVar(&kind, "kind", "nfs", "nfs|zfs")
	cmd.Flags().StringVar(&defaultHost, "default-host", "", "default NFS host for sources in this collection")
	cmd.Flags().StringVar(&prefix, "prefix", "", "shared path prefix")
	cmd.Flags().StringVar(&quota, "quota", "", "zfs quota, e.g. 1T")
	cmd.Flags().StringVar(&options, "options", "", "comma-separated mount options")
	return cmd
}

func newStorageEditSourceCmd() *cobra.Command {
	var sitename, host, hostPath, options string
	cmd := &cobra.Command{
		Use:   "source NAME",
		Short: "Edit a source collection's default host/prefix/options in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			name := args[0]
			site, err := a.svc.Store().GetSiteByName(cmd.Context(), sitename)
			if err != nil {
				return err
			}
			src, err := a.svc.Store().GetSourceCollection(cmd.Context(), site.ID, name)
			if err != nil {
				return err
			}
			if host != "" {
				src.DefaultHost = host
			}
			if hostPath != "" {
				src.Prefix = hostPath
			}
			if options != "" {
				src.Options = store.StringList(strings.Split(options, ","))
			}
			if err := a.svc.Store().DB().WithContext(cmd.Context()).Save(src).Error; err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated source collection %s\n", name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	cmd.Flags().StringVar(&host, "host", "", "new default host")
	cmd.Flags().StringVar(&hostPath, "prefix", "", "new shared path prefix")
	cmd.Flags().StringVar(&options, "options", "", "comma-separated mount options")
	return cmd
}

func newStorageToPuppetCmd() *cobra.Command {
	var sitename, path string
	cmd := &cobra.Command{
		Use:   "to-puppet",
		Short: "Export a site's storage mounts to the legacy YAML share schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			site, err := a.svc.Store().GetSiteByName(cmd.Context(), sitename)
			if err != nil {
				return err
			}
			storages, err := a.svc.Store().ListStoragesByMapTablename(cmd.Context(), site.ID, "group")
			if err != nil {
				return err
			}
			shares := map[string]legacy.Storage{}
			for _, st := range storages {
				var source store.StorageMountSource
				if err := a.svc.Store().DB().WithContext(cmd.Context()).First(&source, "id = ?", st.SourceID).Error; err != nil {
					continue
				}
				autofs := legacy.Autofs{Host: source.Host, Path: source.HostPath, Options: []string(source.Options)}
				rec := legacy.Storage{Autofs: &autofs}
				if source.Kind == "zfs" {
					rec.ZFS = &legacy.ZFS{Quota: source.Quota}
				}
				shares[st.Name] = rec
			}
			out, err := yaml.Marshal(map[string]map[string]legacy.Storage{"share": shares})
			if err != nil {
				return err
			}
			return writeFile(path, out)
		},
	}
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	cmd.Flags().StringVar(&path, "path", "", "destination YAML file")
	return cmd
}
