package enums

import "fmt"

// UserTier is the subscription tier captured on a media job at creation.
type UserTier string

const (
	UserTierFree UserTier = "free"
	UserTierPlus UserTier = "plus"
	UserTierPro  UserTier = "pro"
)

var validUserTiers = []UserTier{
	UserTierFree,
	UserTierPlus,
	UserTierPro,
}

func (t UserTier) String() string {
	return string(t)
}

func (t UserTier) IsValid() bool {
	for _, candidate := range validUserTiers {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseUserTier converts raw input into a UserTier. Empty input maps to free.
func ParseUserTier(value string) (UserTier, error) {
	if value == "" {
		return UserTierFree, nil
	}
	for _, candidate := range validUserTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid user tier %q", value)
}
