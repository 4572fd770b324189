// Package accountstate implements the seven-state account lifecycle
// machine: a closed set of labelled states (engagedBeforeVerified,
// engagedAfterVerified, cohabitingBeforeKeyPair, cohabitingAfterKeyPair,
// married, separated, doghouse), the transitions between them, and their
// versioned dictionary persistence.
//
// Every state is an immutable value; transitions are plain functions
// that return a new state rather than mutating the receiver, mirroring
// the way keybundle.KeyBundle treats its own key material as immutable.
package accountstate

import "errors"

// Label identifies which of the seven states a value holds.
type Label string

const (
	LabelEngagedBeforeVerified   Label = "engagedBeforeVerified"
	LabelEngagedAfterVerified    Label = "engagedAfterVerified"
	LabelCohabitingBeforeKeyPair Label = "cohabitingBeforeKeyPair"
	LabelCohabitingAfterKeyPair  Label = "cohabitingAfterKeyPair"
	LabelMarried                 Label = "married"
	LabelSeparated               Label = "separated"
	LabelDoghouse                Label = "doghouse"
)

// ActionNeeded is the pure function of a state's label telling the
// driver what the user must do next.
type ActionNeeded string

const (
	ActionNone              ActionNeeded = ""
	ActionNeedsVerification ActionNeeded = "needsVerification"
	ActionNeedsPassword     ActionNeeded = "needsPassword"
	ActionNeedsUpgrade      ActionNeeded = "needsUpgrade"
)

// SchemaVersion is the only persistence schema version this package
// accepts; a dictionary carrying any other version is rejected outright,
// with no implicit upgrade path.
const SchemaVersion = 1

// ErrSchemaMismatch names the failure FromDictionary's false return
// stands for: an unknown version, an unknown label, or a label whose
// required fields are missing or ill-typed. Callers that need an error
// value (e.g. to wrap into a load-failure report) use this sentinel.
var ErrSchemaMismatch = errors.New("accountstate: schema mismatch")

// State is the closed sum type every account state implements. The
// abstract base classes of an inheritance-chain implementation are
// replaced here by a plain interface plus free functions over field
// tuples — ToDictionary/FromDictionary do the serialization work that
// would otherwise live in a shared base.
type State interface {
	Label() Label
	ActionNeeded() ActionNeeded
	ToDictionary() map[string]interface{}
}
