package domain

import "time"

// MemberRole distinguishes team leads from regular members.
type MemberRole string

const (
	MemberRoleLead   MemberRole = "lead"
	MemberRoleMember MemberRole = "member"
)

// Member is an agent inside a team together with its live workload counter.
type Member struct {
	UserID      string
	Role        MemberRole
	Skills      []string
	Workload    int
	MaxWorkload int
}

// HasCapacity reports whether the member can take another item.
func (m Member) HasCapacity() bool {
	return m.Workload < m.MaxWorkload
}

// Team groups agents that handle one category.
type Team struct {
	ID        string
	Name      string
	Category  string
	IsActive  bool
	IsDefault bool
	Members   []Member
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AverageWorkload is sum(workload)/len(members); an empty team averages zero.
func (t Team) AverageWorkload() float64 {
	if len(t.Members) == 0 {
		return 0
	}
	sum := 0
	for _, m := range t.Members {
		sum += m.Workload
	}
	return float64(sum) / float64(len(t.Members))
}

// Member looks up a member by user id.
func (t Team) Member(userID string) (Member, bool) {
	for _, m := range t.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}
