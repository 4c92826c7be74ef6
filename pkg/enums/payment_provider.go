package enums

import "fmt"

// PaymentProvider identifies the external rail a transaction runs on.
type PaymentProvider string

const (
	PaymentProviderCard           PaymentProvider = "CARD"
	PaymentProviderWalletApproval PaymentProvider = "WALLET_APPROVAL"
	PaymentProviderHostedCharge   PaymentProvider = "HOSTED_CHARGE"
	PaymentProviderCryptoAddress  PaymentProvider = "CRYPTO_ADDRESS"
)

var validPaymentProviders = []PaymentProvider{
	PaymentProviderCard,
	PaymentProviderWalletApproval,
	PaymentProviderHostedCharge,
	PaymentProviderCryptoAddress,
}

// String implements fmt.Stringer.
func (p PaymentProvider) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentProvider.
func (p PaymentProvider) IsValid() bool {
	for _, candidate := range validPaymentProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentProvider converts raw input into a PaymentProvider.
func ParsePaymentProvider(value string) (PaymentProvider, error) {
	for _, candidate := range validPaymentProviders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment provider %q", value)
}
