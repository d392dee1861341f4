package domain

// ActorKind differentiates members, API operators and the bot itself.
type ActorKind string

const (
	ActorKindMember   ActorKind = "MEMBER"
	ActorKindSystem   ActorKind = "SYSTEM"
	ActorKindOperator ActorKind = "OPERATOR"
)

// Actor identifies whoever triggered a ticket operation.
type Actor struct {
	ID          string
	DisplayName string
	RoleIDs     []string
	Kind        ActorKind
}

// SystemActor represents the bot acting on its own (inactivity sweeps).
func SystemActor(botID string) Actor {
	return Actor{ID: botID, DisplayName: "system", Kind: ActorKindSystem}
}

// OperatorActor represents an authenticated admin API operator.
func OperatorActor(username string) Actor {
	return Actor{ID: "operator:" + username, DisplayName: username, Kind: ActorKindOperator}
}

// IsOperator reports whether the actor came through the admin API.
func (a Actor) IsOperator() bool {
	return a.Kind == ActorKindOperator
}

// IsSystem reports whether the actor is the bot itself.
func (a Actor) IsSystem() bool {
	return a.Kind == ActorKindSystem
}

// HasAnyRole reports whether the actor holds one of the given roles.
func (a Actor) HasAnyRole(roleIDs []string) bool {
	for _, have := range a.RoleIDs {
		for _, want := range roleIDs {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Name returns the display name, falling back to the id.
func (a Actor) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.ID
}
