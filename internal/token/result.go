package token

// Status tags the outcome of credential verification.
type Status int

const (
	// StatusInvalid means neither the current nor the legacy format accepted
	// the credential.
	StatusInvalid Status = iota
	// StatusValid means the credential verified under the current format.
	StatusValid
	// StatusLegacyUpgraded means a deprecated-format credential validated and
	// a replacement was minted; the caller should hand Refreshed back to the
	// client.
	StatusLegacyUpgraded
)

// Result is the tagged outcome of running a credential through verification
// and, when permitted, the legacy upgrade path.
type Result struct {
	Status    Status
	Claims    *Claims
	Refreshed string
}
