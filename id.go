package rowguard

import "github.com/xraph/rowguard/id"

// ID is the primary identifier type for all rowguard entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
