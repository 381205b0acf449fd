package entity

// AppMetadata describes the application to the wallets it connects to.
type AppMetadata struct {
	Name                       string              `json:"name" yaml:"name"`
	Icon                       string              `json:"icon" yaml:"icon"`
	Logo                       string              `json:"logo,omitempty" yaml:"logo,omitempty"`
	Description                string              `json:"description" yaml:"description"`
	URL                        string              `json:"url,omitempty" yaml:"url,omitempty"`
	GettingStartedGuide        string              `json:"gettingStartedGuide,omitempty" yaml:"gettingStartedGuide,omitempty"`
	Explore                    string              `json:"explore,omitempty" yaml:"explore,omitempty"`
	RecommendedInjectedWallets []RecommendedWallet `json:"recommendedInjectedWallets,omitempty" yaml:"recommendedInjectedWallets,omitempty"`
	Agreement                  *TermsAgreement     `json:"agreement,omitempty" yaml:"agreement,omitempty"`
}

// RecommendedWallet is shown when no injected wallet is available.
type RecommendedWallet struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// TermsAgreement lists the documents a user must accept before connecting.
type TermsAgreement struct {
	Version    string `json:"version" yaml:"version"`
	TermsURL   string `json:"termsUrl,omitempty" yaml:"termsUrl,omitempty"`
	PrivacyURL string `json:"privacyUrl,omitempty" yaml:"privacyUrl,omitempty"`
}
