package accountstate

import "github.com/fxa-sync/keyring/keypair"

// EngagedBeforeVerified is held while the client is signed in but the
// account's email has not yet been confirmed.
type EngagedBeforeVerified struct {
	SessionToken       []byte
	KeyFetchToken      []byte
	UnwrapKB           []byte
	KnownUnverifiedAt  int64
	LastNotifiedUserAt int64
}

func (EngagedBeforeVerified) Label() Label { return LabelEngagedBeforeVerified }
func (EngagedBeforeVerified) ActionNeeded() ActionNeeded { return ActionNeedsVerification }

// EngagedAfterVerified is held once verification is observed but before
// (kA, kB) have been fetched.
type EngagedAfterVerified struct {
	SessionToken  []byte
	KeyFetchToken []byte
	UnwrapKB      []byte
}

func (EngagedAfterVerified) Label() Label { return LabelEngagedAfterVerified }
func (EngagedAfterVerified) ActionNeeded() ActionNeeded { return ActionNone }

// CohabitingBeforeKeyPair holds (kA, kB) but no RSA key pair yet.
type CohabitingBeforeKeyPair struct {
	SessionToken []byte
	KA           []byte
	KB           []byte
}

func (CohabitingBeforeKeyPair) Label() Label { return LabelCohabitingBeforeKeyPair }
func (CohabitingBeforeKeyPair) ActionNeeded() ActionNeeded { return ActionNone }

// CohabitingAfterKeyPair additionally holds a generated RSA key pair,
// not yet certified.
type CohabitingAfterKeyPair struct {
	SessionToken     []byte
	KA               []byte
	KB               []byte
	KeyPair          keypair.RSAKeyPair
	KeyPairExpiresAt int64
}

func (CohabitingAfterKeyPair) Label() Label { return LabelCohabitingAfterKeyPair }
func (CohabitingAfterKeyPair) ActionNeeded() ActionNeeded { return ActionNone }

// IsKeyPairExpired reports whether the key pair has expired as of now
// (milliseconds since the Unix epoch).
func (s CohabitingAfterKeyPair) IsKeyPairExpired(now int64) bool {
	return now >= s.KeyPairExpiresAt
}

// Married additionally holds a server-signed certificate and is the only
// state that can produce a BrowserID-style assertion.
type Married struct {
	SessionToken         []byte
	KA                   []byte
	KB                   []byte
	KeyPair              keypair.RSAKeyPair
	KeyPairExpiresAt     int64
	Certificate          string
	CertificateExpiresAt int64
}

func (Married) Label() Label { return LabelMarried }
func (Married) ActionNeeded() ActionNeeded { return ActionNone }

// IsCertificateExpired reports whether the certificate has expired as of
// now (milliseconds since the Unix epoch).
func (s Married) IsCertificateExpired(now int64) bool {
	return now >= s.CertificateExpiresAt
}

// IsKeyPairExpired reports whether the underlying key pair has expired
// as of now.
func (s Married) IsKeyPairExpired(now int64) bool {
	return now >= s.KeyPairExpiresAt
}

// Separated holds no material; the driver must re-collect the password.
type Separated struct{}

func (Separated) Label() Label { return LabelSeparated }
func (Separated) ActionNeeded() ActionNeeded { return ActionNeedsPassword }

// Doghouse holds no material; the driver must prompt for a client
// upgrade.
type Doghouse struct{}

func (Doghouse) Label() Label { return LabelDoghouse }
func (Doghouse) ActionNeeded() ActionNeeded { return ActionNeedsUpgrade }

var (
	_ State = EngagedBeforeVerified{}
	_ State = EngagedAfterVerified{}
	_ State = CohabitingBeforeKeyPair{}
	_ State = CohabitingAfterKeyPair{}
	_ State = Married{}
	_ State = Separated{}
	_ State = Doghouse{}
)
