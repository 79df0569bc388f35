package authz

import "github.com/cedar-policy/cedar-go"

// Resource identifies what an action targets.
type Resource struct {
	Type string // one of the Entity* constants
	ID   string
}

// PatchResource is a convenience constructor for a patch target.
func PatchResource(id string) Resource { return Resource{Type: EntityPatch, ID: id} }

// NewOperatorEntity constructs the Cedar entity for an acting operator. The
// role attribute is what the generated policies match on.
func NewOperatorEntity(actor string, role Role) cedar.Entity {
	return cedar.Entity{
		UID:     cedar.NewEntityUID(EntityOperator, cedar.String(actor)),
		Parents: cedar.NewEntityUIDSet(),
		Attributes: cedar.NewRecord(cedar.RecordMap{
			"role": cedar.String(role.String()),
		}),
	}
}

// NewResourceEntity constructs a Cedar entity for any resource type.
func NewResourceEntity(res Resource) cedar.Entity {
	return cedar.Entity{
		UID:        cedar.NewEntityUID(cedar.EntityType(res.Type), cedar.String(res.ID)),
		Parents:    cedar.NewEntityUIDSet(),
		Attributes: cedar.NewRecord(cedar.RecordMap{}),
	}
}

// buildEntities constructs the entity graph for a single request.
func buildEntities(req Request) cedar.EntityMap {
	principal := NewOperatorEntity(req.Actor, req.Role)
	resource := NewResourceEntity(req.Resource)
	return cedar.EntityMap{
		principal.UID: principal,
		resource.UID:  resource,
	}
}

func buildCedarRequest(req Request) cedar.Request {
	return cedar.Request{
		Principal: cedar.NewEntityUID(EntityOperator, cedar.String(req.Actor)),
		Action:    cedar.NewEntityUID("Action", cedar.String(req.Action.String())),
		Resource:  cedar.NewEntityUID(cedar.EntityType(req.Resource.Type), cedar.String(req.Resource.ID)),
		Context:   cedar.NewRecord(cedar.RecordMap{}),
	}
}
