package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/ucdavis-hpc/cheeto/internal/config"
	"github.com/ucdavis-hpc/cheeto/internal/errs"
)

// Command is one sacctmgr invocation, kept as discrete args (never a shell
// string) so Execute can run it directly with exec.CommandContext.
type Command struct {
	Path string
	Args []string
	Sudo bool
}

// String renders the command the way the original's sh.Command.__repr__
// did, for dump/record modes.
func (c Command) String() string {
	args := c.Args
	path := c.Path
	if c.Sudo {
		args = append([]string{c.Path}, c.Args...)
		path = "sudo"
	}
	s := path
	for _, a := range args {
		s += " " + a
	}
	return s
}

// Run executes the command, honoring the context's deadline.
func (c Command) Run(ctx context.Context) error {
	path, args := c.Path, c.Args
	if c.Sudo {
		args = append([]string{c.Path}, c.Args...)
		path = "sudo"
	}
	cmd := exec.CommandContext(ctx, path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errs.Externalf("sacctmgr", err, "%s: %s", c, stderr.String())
	}
	return nil
}

// SAcctMgr bakes the admin CLI's quiet/immediate flags and account/qos/user
// sub-verbs, grounded on slurm.py's SAcctMgr class.
type SAcctMgr struct {
	path string
	sudo bool
}

func NewSAcctMgr(cfg config.SlurmConfig, sudo bool) *SAcctMgr {
	path := cfg.SacctmgrPath
	if path == "" {
		path = "sacctmgr"
	}
	return &SAcctMgr{path: path, sudo: sudo}
}

func (m *SAcctMgr) cmd(args ...string) Command {
	full := append([]string{"-iQ"}, args...)
	return Command{Path: m.path, Args: full, Sudo: m.sudo}
}

func (m *SAcctMgr) AddAccount(name string, a Account) Command {
	args := []string{"add", "account", name}
	args = append(args, accountAttrs(a, false)...)
	return m.cmd(args...)
}

func (m *SAcctMgr) ModifyAccount(name string, a Account) Command {
	args := []string{"modify", "account", name, "set"}
	args = append(args, accountAttrs(a, true)...)
	return m.cmd(args...)
}

func (m *SAcctMgr) RemoveAccount(name string) Command {
	return m.cmd("remove", "account", name)
}

func accountAttrs(a Account, modify bool) []string {
	fmtJobs := func(v *int64) string {
		if v == nil {
			if modify {
				return "-1"
			}
			return ""
		}
		return fmt.Sprintf("%d", *v)
	}
	var out []string
	if v := fmtJobs(a.MaxUserJobs); v != "" {
		out = append(out, "MaxJobs="+v)
	}
	if v := fmtJobs(a.MaxGroupJobs); v != "" {
		out = append(out, "GrpJobs="+v)
	}
	if v := fmtJobs(a.MaxSubmitJobs); v != "" {
		out = append(out, "MaxSubmitJobsPerUser="+v)
	}
	if a.MaxJobLength != nil {
		out = append(out, "MaxWallDurationPerJob="+formatSlurmMinutes(*a.MaxJobLength))
	} else if modify {
		out = append(out, "MaxWallDurationPerJob=-1")
	}
	return out
}

// AddQOS/ModifyQOS serialize the null-flags/null-TRES rules from §4.7: in
// add form, null flags omit the attribute; in modify form, null flags
// become Flags=-1. TRES fields null-serialize as -1 in both forms.
func (m *SAcctMgr) AddQOS(name string, q QOS) Command {
	return m.cmd(append([]string{"add", "qos", name}, qosAttrs(q, false)...)...)
}

func (m *SAcctMgr) ModifyQOS(name string, q QOS) Command {
	return m.cmd(append([]string{"modify", "qos", name, "set"}, qosAttrs(q, true)...)...)
}

func (m *SAcctMgr) RemoveQOS(name string) Command {
	return m.cmd("remove", "qos", name)
}

func qosAttrs(q QOS, modify bool) []string {
	out := []string{
		"GrpTres=" + q.Group.ToSlurm(),
		"MaxTRESPerUser=" + q.User.ToSlurm(),
		"MaxTresPerJob=" + q.Job.ToSlurm(),
	}
	if len(q.Flags) > 0 {
		flags := q.Flags[0]
		for _, f := range q.Flags[1:] {
			flags += "," + f
		}
		out = append(out, "Flags="+flags)
	} else if modify {
		out = append(out, "Flags=-1")
	}
	out = append(out, fmt.Sprintf("Priority=%d", q.Priority))
	return out
}

func (m *SAcctMgr) AddUser(key AssocKey, qosname string) Command {
	return m.cmd("add", "user",
		"user="+key.User,
		"account="+key.Account,
		"partition="+key.Partition,
		"qos="+qosname)
}

func (m *SAcctMgr) ModifyUserQOS(key AssocKey, qosname string) Command {
	return m.cmd("modify", "user", "set",
		"qos="+qosname, "defaultqos=-1", "where",
		"user="+key.User, "account="+key.Account, "partition="+key.Partition)
}

func (m *SAcctMgr) RemoveUser(key AssocKey) Command {
	return m.cmd("remove", "user",
		"user="+key.User, "account="+key.Account, "partition="+key.Partition)
}

// ShowQOS/ShowAssociations build the read-only listing commands used to
// capture actual state when no --slurm-qoses/--slurm-associations file was
// supplied.
func (m *SAcctMgr) ShowQOS() Command {
	return m.cmd("show", "-P", "qos")
}

func (m *SAcctMgr) ShowAssociations() Command {
	return m.cmd("show", "-P", "associations")
}

// Capture runs a read-only show command and returns its stdout.
func (m *SAcctMgr) Capture(ctx context.Context, c Command) ([]byte, error) {
	path, args := c.Path, c.Args
	if c.Sudo {
		args = append([]string{c.Path}, c.Args...)
		path = "sudo"
	}
	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errs.Externalf("sacctmgr", err, "%s: %s", c, stderr.String())
	}
	return stdout.Bytes(), nil
}
