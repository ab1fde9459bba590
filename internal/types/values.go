package types

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ucdavis-hpc/cheeto/internal/errs"
)

// kerberosIDPattern mirrors the legacy schema's Regexp validator for POSIX
// account/group names, including the trailing "$" form used by machine
// accounts.
var kerberosIDPattern = regexp.MustCompile(`^[a-z_]([a-z0-9_-]{0,31}|[a-z0-9_-]{0,30}\$)$`)

// ValidateKerberosID checks a username/groupname shape.
func ValidateKerberosID(field, s string) error {
	if !kerberosIDPattern.MatchString(s) {
		return errs.Validationf(field, "%q is not a valid POSIX name", s)
	}
	return nil
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func ValidateEmail(field, s string) error {
	if !emailPattern.MatchString(s) {
		return errs.Validationf(field, "%q is not a valid email address", s)
	}
	return nil
}

func ValidateShell(field, s string) error {
	if !IsValidShell(s) {
		return errs.Validationf(field, "%q is not an enumerated shell", s)
	}
	return nil
}

func ValidateOneOf(field, s string, domain map[string]bool) error {
	if !domain[s] {
		return errs.Validationf(field, "%q is not one of %v", s, SortedKeys(domain))
	}
	return nil
}

// DataQuota is a size string like "1G", "512M", "2.5T" normalized to an
// integer-megabyte representation with suffix "M" (invariant 6).
type DataQuota string

var quotaPattern = regexp.MustCompile(`^([+-]?(?:[0-9]*\.)?[0-9]+)([MmGgTtPp])$`)

// megsPerUnit is the conversion table from invariant 6 (M, G, T). The
// quota regex also accepts a P suffix, which has no entry here, so it is
// rejected at normalization time with a Validation error rather than
// silently guessed.
var megsPerUnit = map[byte]float64{
	'M': 1,
	'G': 1024,
	'T': 1024 * 1024,
}

// ParseDataQuota validates and normalizes a quota string to integer megabytes
// with an "M" suffix, e.g. "1G" -> "1024M".
func ParseDataQuota(field, s string) (DataQuota, error) {
	m := quotaPattern.FindStringSubmatch(s)
	if m == nil {
		return "", errs.Validationf(field, "%q is not a valid data quota", s)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return "", errs.Validationf(field, "%q has an unparseable numeric part", s)
	}
	unit := strings.ToUpper(m[2])[0]
	perMeg, ok := megsPerUnit[unit]
	if !ok {
		return "", errs.Validationf(field, "%q uses an unsupported unit %q", s, m[2])
	}
	megs := int64(n * perMeg)
	return DataQuota(fmt.Sprintf("%dM", megs)), nil
}

// Megs returns the integer megabyte value of a normalized DataQuota.
func (q DataQuota) Megs() int64 {
	n, _ := strconv.ParseInt(strings.TrimSuffix(string(q), "M"), 10, 64)
	return n
}

// TRES is a parsed trackable-resources triple (cpu, memory, gpu) attached to
// QOS limits. Nil pointer fields mean "absent", serialized as -1 per §4.7.
type TRES struct {
	CPUs *int64
	Mem  *DataQuota
	GPUs *int64
}

// ParseTRES parses "cpus=16,mem=1G,gpus=2" style strings. Unknown keys are
// ignored; missing fields remain nil.
func ParseTRES(s string) (TRES, error) {
	var t TRES
	if strings.TrimSpace(s) == "" {
		return t, nil
	}
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) != 2 {
			return t, errs.Validationf("tres", "malformed token %q", tok)
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch key {
		case "cpus", "cpu":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return t, errs.Validationf("tres.cpus", "%q is not an integer", val)
			}
			t.CPUs = &n
		case "gpus", "gpu":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return t, errs.Validationf("tres.gpus", "%q is not an integer", val)
			}
			t.GPUs = &n
		case "mem":
			q, err := ParseDataQuota("tres.mem", val)
			if err != nil {
				return t, err
			}
			t.Mem = &q
		}
	}
	return t, nil
}

// ToSlurm serializes canonically: cpu=N,mem=M,gres/gpu=G, with absent
// fields serialized as -1. The scheduler's add and modify QOS commands both
// use this same form.
func (t TRES) ToSlurm() string {
	cpu := int64(-1)
	if t.CPUs != nil {
		cpu = *t.CPUs
	}
	gpu := int64(-1)
	if t.GPUs != nil {
		gpu = *t.GPUs
	}
	mem := "-1"
	if t.Mem != nil {
		mem = strconv.FormatInt(t.Mem.Megs(), 10)
	}
	return fmt.Sprintf("cpu=%d,mem=%s,gres/gpu=%d", cpu, mem, gpu)
}

// Negate returns the TRES clearing form used when a QOS TRES block is wholly
// absent, per the original's SlurmQOSTRES.negate().
func NegateTRES() string {
	return "cpu=-1,mem=-1,gres/gpu=-1"
}

// HippoToCheetoAccess maps the upstream event service's accessTypes values
// onto cheeto's access set. Unknown values are ignored (§4.5 point 6).
func HippoToCheetoAccess(hippoAccessTypes []string) []string {
	var out []string
	for _, a := range hippoAccessTypes {
		switch a {
		case "OpenOnDemand":
			out = append(out, "ondemand")
		case "SshKey":
			out = append(out, "login-ssh")
		}
	}
	return out
}
