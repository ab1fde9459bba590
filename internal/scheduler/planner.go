package scheduler

// Op names one of the nine mutation groups in §4.7's plan ordering,
// mirroring slurm.py's SlurmOp enum.
type Op string

const (
	OpAddQOS        Op = "ADD_QOS"
	OpModifyQOS     Op = "MODIFY_QOS"
	OpModifyUser    Op = "MODIFY_USER"
	OpDeleteUser    Op = "DELETE_USER"
	OpDeleteQOS     Op = "DELETE_QOS"
	OpAddAccount    Op = "ADD_ACCOUNT"
	OpModifyAccount Op = "MODIFY_ACCOUNT"
	OpAddUser       Op = "ADD_USER"
	OpDeleteAccount Op = "DELETE_ACCOUNT"
)

// CommandGroup is one named step of the plan: every command in it shares an
// Op and executes (or is dumped) together.
type CommandGroup struct {
	Name     string
	Op       Op
	Commands []Command
}

// GeneratePlan implements §4.7's nine-step ordering — a contract, not an
// implementation detail, since it avoids referential failures in the
// scheduler (e.g. a QOS must exist before a user association references it;
// an account must lose its associations before it can be removed).
func GeneratePlan(r Reconciliation, m *SAcctMgr) []CommandGroup {
	plan := []CommandGroup{
		{"Add New QOSes", OpAddQOS, mapCmds(r.QOS.Additions, func(kv KV[string, QOS]) Command {
			return m.AddQOS(kv.Key, kv.Value)
		})},
		{"Modify QOSes", OpModifyQOS, mapCmds(r.QOS.Updates, func(kv KV[string, QOS]) Command {
			return m.ModifyQOS(kv.Key, kv.Value)
		})},
		{"Modify Users", OpModifyUser, mapCmds(r.Users.Updates, func(kv KV[AssocKey, string]) Command {
			return m.ModifyUserQOS(kv.Key, kv.Value)
		})},
		{"Delete Users", OpDeleteUser, mapKeys(r.Users.Deletions, m.RemoveUser)},
		{"Delete QOSes", OpDeleteQOS, mapKeys(r.QOS.Deletions, m.RemoveQOS)},
		{"Add New Accounts", OpAddAccount, mapCmds(r.Accounts.Additions, func(kv KV[string, Account]) Command {
			return m.AddAccount(kv.Key, kv.Value)
		})},
		{"Modify Accounts", OpModifyAccount, mapCmds(r.Accounts.Updates, func(kv KV[string, Account]) Command {
			return m.ModifyAccount(kv.Key, kv.Value)
		})},
		{"Add New Users", OpAddUser, mapCmds(r.Users.Additions, func(kv KV[AssocKey, string]) Command {
			return m.AddUser(kv.Key, kv.Value)
		})},
		{"Delete Accounts", OpDeleteAccount, mapKeys(r.Accounts.Deletions, m.RemoveAccount)},
	}
	return plan
}

func mapCmds[K comparable, V any](items []KV[K, V], f func(KV[K, V]) Command) []Command {
	out := make([]Command, len(items))
	for i, kv := range items {
		out[i] = f(kv)
	}
	return out
}

func mapKeys[K comparable](keys []K, f func(K) Command) []Command {
	out := make([]Command, len(keys))
	for i, k := range keys {
		out[i] = f(k)
	}
	return out
}
