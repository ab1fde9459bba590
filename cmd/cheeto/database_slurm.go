package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ucdavis-hpc/cheeto/internal/store"
	"github.com/ucdavis-hpc/cheeto/internal/types"
)

func newDatabaseSlurmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slurm",
		Short: "Manage scheduler QOS, partitions, and associations",
	}
	show := &cobra.Command{Use: "show", Short: "Show scheduler entities"}
	show.AddCommand(newSlurmShowQOSCmd(), newSlurmShowPartitionCmd(), newSlurmShowAssocCmd())

	cmd.AddCommand(
		newSlurmNewCmd(),
		newSlurmEditCmd(),
		newSlurmRemoveCmd(),
		show,
	)
	return cmd
}

// applyGroupTRES applies a parsed cpus/mem/gpus TRES string to a QOS row's
// group-limit columns (§4.7's QOS serialization).
func applyGroupTRES(q *store.SchedulerQOS, tres string) error {
	if tres == "" {
		return nil
	}
	t, err := types.ParseTRES(tres)
	if err != nil {
		return err
	}
	q.GroupCPUs, q.GroupGPUs = t.CPUs, t.GPUs
	if t.Mem != nil {
		q.GroupMem = string(*t.Mem)
	}
	return nil
}

func newSlurmNewCmd() *cobra.Command {
	var sitename, groupLimits, userLimits, jobLimits, flags string
	var priority int64
	cmd := &cobra.Command{
		Use:   "new qos|partition NAME",
		Short: "Create a scheduler QOS or partition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			site, err := a.svc.Store().GetSiteByName(cmd.Context(), sitename)
			if err != nil {
				return err
			}
			name := args[1]
			switch args[0] {
			case "qos":
				q := &store.SchedulerQOS{SiteID: site.ID, Sitename: sitename, Name: name, Priority: priority}
				if err := applyGroupTRES(q, groupLimits); err != nil {
					return err
				}
				if userLimits != "" {
					t, err := types.ParseTRES(userLimits)
					if err != nil {
						return err
					}
					q.UserCPUs, q.UserGPUs = t.CPUs, t.GPUs
					if t.Mem != nil {
						q.UserMem = string(*t.Mem)
					}
				}
				if jobLimits != "" {
					t, err := types.ParseTRES(jobLimits)
					if err != nil {
						return err
					}
					q.JobCPUs, q.JobGPUs = t.CPUs, t.GPUs
					if t.Mem != nil {
						q.JobMem = string(*t.Mem)
					}
				}
				if flags != "" {
					q.Flags = store.StringList(strings.Split(flags, ","))
				}
				if err := a.svc.Store().CreateQOS(cmd.Context(), q); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created qos %s\n", name)
			case "partition":
				p := &store.SchedulerPartition{SiteID: site.ID, Sitename: sitename, Name: name}
				if err := a.svc.Store().CreatePartition(cmd.Context(), p); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created partition %s\n", name)
			default:
				return fmt.Errorf("unknown scheduler entity kind %q (want qos|partition)", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	cmd.Flags().StringVar(&groupLimits, "group-limits", "", "group TRES limits, e.g. cpus=16,mem=1G")
	cmd.Flags().StringVar(&userLimits, "user-limits", "", "user TRES limits")
	cmd.Flags().StringVar(&jobLimits, "job-limits", "", "job TRES limits")
	cmd.Flags().StringVar(&flags, "flags", "", "comma-separated QOS flags")
	cmd.Flags().Int64Var(&priority, "priority", 0, "QOS priority")
	return cmd
}

func newSlurmEditCmd() *cobra.Command {
	var sitename, groupLimits, flags string
	cmd := &cobra.Command{
		Use:   "edit qos NAME",
		Short: "Edit an existing QOS's limits and flags",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] != "qos" {
				return fmt.Errorf("edit only supports qos (got %q)", args[0])
			}
			a := appFromContext(cmd.Context())
			q, err := a.svc.Store().GetQOS(cmd.Context(), sitename, args[1])
			if err != nil {
				return err
			}
			if err := applyGroupTRES(q, groupLimits); err != nil {
				return err
			}
			if flags != "" {
				q.Flags = store.StringList(strings.Split(flags, ","))
			}
			if err := a.svc.Store().UpdateQOS(cmd.Context(), q); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated qos %s\n", args[1])
			return nil
		},
	}
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	cmd.Flags().StringVar(&groupLimits, "group-limits", "", "group TRES limits, e.g. cpus=32,mem=16G")
	cmd.Flags().StringVar(&flags, "flags", "", "comma-separated QOS flags")
	return cmd
}

func newSlurmRemoveCmd() *cobra.Command {
	var sitename string
	cmd := &cobra.Command{
		Use:   "remove qos|partition NAME",
		Short: "Remove a QOS or partition and cascade its associations",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			switch args[0] {
			case "qos":
				q, err := a.svc.Store().GetQOS(cmd.Context(), sitename, args[1])
				if err != nil {
					return err
				}
				if err := a.svc.Store().CascadeDeleteQOS(cmd.Context(), q.ID); err != nil {
					return err
				}
			case "partition":
				p, err := a.svc.Store().GetPartition(cmd.Context(), sitename, args[1])
				if err != nil {
					return err
				}
				if err := a.svc.Store().CascadeDeletePartition(cmd.Context(), p.ID); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown scheduler entity kind %q (want qos|partition)", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s %s\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	return cmd
}

func newSlurmShowQOSCmd() *cobra.Command {
	var sitename string
	cmd := &cobra.Command{
		Use:   "qos",
		Short: "List QOS rows at a site (pipe-delimited, header first line, §6)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			rows, err := a.svc.Store().ListQOS(cmd.Context(), sitename)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Name|Priority|Flags|GrpTRES")
			for _, q := range rows {
				fmt.Fprintf(cmd.OutOrStdout(), "%s|%d|%s|%s\n", q.Name, q.Priority, strings.Join(q.Flags, ","), q.GroupMem)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	return cmd
}

func newSlurmShowPartitionCmd() *cobra.Command {
	var sitename string
	cmd := &cobra.Command{
		Use:   "partition",
		Short: "List the IDs of partitions referenced by a site's associations (unassociated partitions are not listed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			assocs, err := a.svc.Store().ListAssociations(cmd.Context(), sitename)
			if err != nil {
				return err
			}
			seen := map[string]bool{}
			for _, assoc := range assocs {
				if seen[assoc.PartitionID.String()] {
					continue
				}
				seen[assoc.PartitionID.String()] = true
				fmt.Fprintln(cmd.OutOrStdout(), assoc.PartitionID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	return cmd
}

func newSlurmShowAssocCmd() *cobra.Command {
	var sitename string
	cmd := &cobra.Command{
		Use:   "assoc",
		Short: "List associations at a site (pipe-delimited, header first line, §6)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			assocs, err := a.svc.Store().ListAssociations(cmd.Context(), sitename)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Group|Partition|QOS")
			for _, assoc := range assocs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s|%s|%s\n", assoc.GroupID, assoc.PartitionID, assoc.QOSID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&sitename, "site", "s", "", "site name")
	return cmd
}
