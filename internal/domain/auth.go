package domain

// TokenPurpose tags a JWT with the single flow it is valid for. Access
// tokens authenticate API traffic; verify tokens only confirm email
// ownership. The two are never interchangeable.
type TokenPurpose string

const (
	TokenPurposeAccess TokenPurpose = "access"
	TokenPurposeVerify TokenPurpose = "verify"
)
