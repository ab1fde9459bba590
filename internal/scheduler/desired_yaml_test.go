package scheduler

import (
	"testing"

	"github.com/ucdavis-hpc/cheeto/internal/legacy"
)

func TestBuildDesiredFromYAMLInlineQOS(t *testing.T) {
	data := legacy.AccountMap{
		Group: map[string]legacy.GroupRecord{
			"biochem": {
				GID: 1000,
				Slurm: &legacy.Slurm{
					Partitions: map[string]legacy.PartitionEntry{
						"high2": {
							QOS: &legacy.QOS{
								GroupLimits: &legacy.TRESLimits{CPUs: int64p(32)},
								Priority:    5,
							},
						},
					},
				},
			},
		},
		User: map[string]legacy.UserRecord{
			"alice": {UID: 10, GID: 10, Groups: []string{"biochem"}},
		},
	}

	desired, err := BuildDesiredFromYAML(data)
	if err != nil {
		t.Fatalf("BuildDesiredFromYAML: %v", err)
	}

	if _, ok := desired.Accounts["biochem"]; !ok {
		t.Fatalf("expected account 'biochem', got %+v", desired.Accounts)
	}

	wantQOSName := "biochem-high2-qos"
	q, ok := desired.QOS[wantQOSName]
	if !ok {
		t.Fatalf("expected inline qos %q, got %+v", wantQOSName, desired.QOS)
	}
	if q.Group.CPUs == nil || *q.Group.CPUs != 32 {
		t.Errorf("qos group cpus = %v, want 32", q.Group.CPUs)
	}

	key := AssocKey{User: "alice", Account: "biochem", Partition: "high2"}
	if got := desired.Users[key]; got != wantQOSName {
		t.Errorf("desired.Users[%v] = %q, want %q", key, got, wantQOSName)
	}
}

func TestBuildDesiredFromYAMLUnresolvedReferenceErrors(t *testing.T) {
	data := legacy.AccountMap{
		Group: map[string]legacy.GroupRecord{
			"biochem": {
				Slurm: &legacy.Slurm{
					Partitions: map[string]legacy.PartitionEntry{
						"high2": {QOSName: "does-not-exist"},
					},
				},
			},
		},
	}

	if _, err := BuildDesiredFromYAML(data); err == nil {
		t.Fatal("expected an error for an unresolved qos reference, got nil")
	}
}

func TestBuildDesiredFromYAMLUserSlurmAccountGrantsExtraAssociation(t *testing.T) {
	data := legacy.AccountMap{
		Group: map[string]legacy.GroupRecord{
			"biochem": {
				Slurm: &legacy.Slurm{
					Partitions: map[string]legacy.PartitionEntry{
						"high2": {QOS: &legacy.QOS{Priority: 1}},
					},
				},
			},
		},
		User: map[string]legacy.UserRecord{
			"bob": {Slurm: &legacy.UserSlurm{Account: []string{"biochem"}}},
		},
	}

	desired, err := BuildDesiredFromYAML(data)
	if err != nil {
		t.Fatalf("BuildDesiredFromYAML: %v", err)
	}
	key := AssocKey{User: "bob", Account: "biochem", Partition: "high2"}
	if _, ok := desired.Users[key]; !ok {
		t.Fatalf("expected association for slurmer bob via slurm.account, got %+v", desired.Users)
	}
}
