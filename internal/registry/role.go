package registry

import "github.com/mossy-p/consult-signaling/internal/models"

// AssignFunc picks the role of a newcomer from the members already present.
type AssignFunc func(existing []models.Member) models.Role

// AssignRole is the positional policy: whoever opens an empty room is the
// doctor, everyone after is a patient. A room that empties and refills gets a
// new doctor.
func AssignRole(existing []models.Member) models.Role {
	if len(existing) == 0 {
		return models.RoleDoctor
	}
	return models.RolePatient
}

// IsFirst reports whether id is the earliest living member.
func IsFirst(members []models.Member, id string) bool {
	return len(members) > 0 && members[0].ID == id
}
