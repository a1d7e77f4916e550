package apperrors

type Code string

const (
	CodeUnknown         Code = "UNKNOWN"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeForbidden       Code = "FORBIDDEN"
	CodePaymentRequired Code = "PAYMENT_REQUIRED"
	CodeAlreadyPaid     Code = "ALREADY_PAID"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeCrypto          Code = "CRYPTO"
	CodeProvider        Code = "PROVIDER"
	CodeInternal        Code = "INTERNAL"
)
