package scheduler

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ucdavis-hpc/cheeto/internal/types"
)

// readShowTable parses a `sacctmgr show -P ...` pipe-delimited table into
// one map[column]value per row, mirroring SAcctMgr.get_show_parser's
// csv.DictReader(fp, delimiter='|').
func readShowTable(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = '|'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse show table: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// sanitizeTRES strips the `gres/` prefix and `:type` suffix from a TRES
// token's resource name, per slurm.py's sanitize_tres.
func sanitizeTRES(s string) map[string]string {
	s = strings.TrimSpace(s)
	out := map[string]string{}
	if s == "" {
		return out
	}
	for _, tok := range strings.Split(s, ",") {
		resource, _, value := strings.Cut(tok, "=")
		resource = strings.TrimPrefix(resource, "gres/")
		resource, _, _ = strings.Cut(resource, ":")
		out[resource] = value
	}
	return out
}

func tresFromSlurmString(s string) types.TRES {
	m := sanitizeTRES(s)
	var t types.TRES
	if v, ok := m["cpu"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			t.CPUs = &n
		}
	}
	if v, ok := m["gpu"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			t.GPUs = &n
		}
	}
	if v, ok := m["mem"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			q := types.DataQuota(fmt.Sprintf("%dM", n))
			t.Mem = &q
		}
	}
	return t
}

// ParseActualQOS implements build_slurm_qos_state: parses `show -P qos`
// output into the QOS map, excluding the row named "normal".
func ParseActualQOS(r io.Reader) (map[string]QOS, error) {
	rows, err := readShowTable(r)
	if err != nil {
		return nil, err
	}
	out := map[string]QOS{}
	for _, row := range rows {
		if row["Name"] == "normal" {
			continue
		}
		priority, _ := strconv.ParseInt(row["Priority"], 10, 64)
		var flags []string
		if f := strings.TrimSpace(row["Flags"]); f != "" {
			flags = strings.Split(f, ",")
		}
		out[row["Name"]] = QOS{
			Group:    tresFromSlurmString(row["GrpTRES"]),
			User:     tresFromSlurmString(row["MaxTRESPU"]),
			Job:      tresFromSlurmString(row["MaxTRES"]),
			Priority: priority,
			Flags:    flags,
		}
	}
	return out, nil
}

// ParseActualAssociations implements build_slurm_association_state: parses
// `show -P associations` output into account extras and per-user QOS
// assignments, excluding the "root" account.
func ParseActualAssociations(r io.Reader) (accounts map[string]Account, users map[AssocKey]string, err error) {
	rows, err := readShowTable(r)
	if err != nil {
		return nil, nil, err
	}
	accounts = map[string]Account{}
	users = map[AssocKey]string{}

	for _, row := range rows {
		row = filterNulls(row)
		if _, hasPartition := row["Partition"]; !hasPartition {
			if row["Account"] == "root" {
				continue
			}
			accounts[row["Account"]] = Account{
				MaxUserJobs:   parseInt64Field(row["MaxJobs"]),
				MaxGroupJobs:  parseInt64Field(row["GrpJobs"]),
				MaxSubmitJobs: parseInt64Field(row["MaxSubmitJobsPerUser"]),
				MaxJobLength:  parseSlurmMinutes(row["MaxWallDurationPerJob"]),
			}
			continue
		}
		if _, hasUser := row["User"]; !hasUser {
			continue
		}
		key := AssocKey{User: row["User"], Account: row["Account"], Partition: row["Partition"]}
		users[key] = row["QOS"]
	}
	return accounts, users, nil
}

// filterNulls drops Slurm's empty-string/"(null)" placeholder values,
// mirroring utils.filter_nulls.
func filterNulls(row map[string]string) map[string]string {
	out := make(map[string]string, len(row))
	for k, v := range row {
		if v == "" || v == "(null)" {
			continue
		}
		out[k] = v
	}
	return out
}

func parseInt64Field(v string) *int64 {
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// parseSlurmMinutes parses a MaxWallDurationPerJob value, accepting either a
// bare integer minute count or Slurm's [D-]HH:MM:SS duration format.
func parseSlurmMinutes(v string) *int64 {
	if v == "" {
		return nil
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return &n
	}
	days := int64(0)
	rest := v
	if d, timepart, ok := strings.Cut(v, "-"); ok {
		n, err := strconv.ParseInt(d, 10, 64)
		if err != nil {
			return nil
		}
		days = n
		rest = timepart
	}
	parts := strings.Split(rest, ":")
	var hours, mins, secs int64
	switch len(parts) {
	case 3:
		hours, _ = strconv.ParseInt(parts[0], 10, 64)
		mins, _ = strconv.ParseInt(parts[1], 10, 64)
		secs, _ = strconv.ParseInt(parts[2], 10, 64)
	case 2:
		mins, _ = strconv.ParseInt(parts[0], 10, 64)
		secs, _ = strconv.ParseInt(parts[1], 10, 64)
	default:
		return nil
	}
	total := days*24*60 + hours*60 + mins
	if secs >= 30 {
		total++
	}
	return &total
}

// formatSlurmMinutes serializes a minute count back to Slurm's
// [D-]HH:MM:SS duration format for account add/modify commands.
func formatSlurmMinutes(n int64) string {
	days := n / (24 * 60)
	rem := n % (24 * 60)
	hours := rem / 60
	mins := rem % 60
	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:00", days, hours, mins)
	}
	return fmt.Sprintf("%02d:%02d:00", hours, mins)
}
