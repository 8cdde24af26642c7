package asyncjob

import "github.com/xraph/asyncjob/id"

// ID is the primary identifier type for asyncjob entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
