package providers

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// Provider identifies an external provider a tenant configures.
type Provider string

const (
	ProviderSMTP    Provider = "smtp"
	ProviderSMS     Provider = "sms"
	ProviderExpo    Provider = "expo"
	ProviderFCM     Provider = "fcm"
	ProviderGateway Provider = "gateway"
)

// ParseProvider validates a provider name.
func ParseProvider(value string) (Provider, bool) {
	switch Provider(strings.ToLower(strings.TrimSpace(value))) {
	case ProviderSMTP:
		return ProviderSMTP, true
	case ProviderSMS:
		return ProviderSMS, true
	case ProviderExpo:
		return ProviderExpo, true
	case ProviderFCM:
		return ProviderFCM, true
	case ProviderGateway:
		return ProviderGateway, true
	default:
		return "", false
	}
}

// Section is one provider's configuration block.
type Section interface {
	Provider() Provider
	Validate() error
}

// Environment selects the payment gateway endpoint.
type Environment string

const (
	EnvironmentTest Environment = "test"
	EnvironmentLive Environment = "live"
)

// SMTPConfig configures outbound mail.
type SMTPConfig struct {
	Host        string `json:"host" yaml:"host"`
	Port        int    `json:"port" yaml:"port"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	SenderName  string `json:"sender_name" yaml:"sender_name"`
	SenderEmail string `json:"sender_email" yaml:"sender_email"`
	Active      bool   `json:"active" yaml:"active"`
}

func (SMTPConfig) Provider() Provider { return ProviderSMTP }

// Validate checks the fields needed to open an authenticated session.
func (c SMTPConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("port is invalid")
	}
	if c.Username == "" || c.Password == "" {
		return errors.New("credentials are required")
	}
	if _, err := mail.ParseAddress(c.FromAddress()); err != nil {
		return errors.New("sender email is invalid")
	}
	return nil
}

// FromAddress returns the envelope sender, falling back to the username.
func (c SMTPConfig) FromAddress() string {
	if c.SenderEmail != "" {
		return c.SenderEmail
	}
	return c.Username
}

// FromHeader formats the From header value.
func (c SMTPConfig) FromHeader() string {
	addr := mail.Address{Name: c.SenderName, Address: c.FromAddress()}
	return addr.String()
}

// SMSConfig configures the SMS gateway account.
type SMSConfig struct {
	Username  string `json:"username" yaml:"username"`
	Password  string `json:"password" yaml:"password"`
	Header    string `json:"header" yaml:"header"`
	IYSFilter string `json:"iys_filter" yaml:"iys_filter"`
	Active    bool   `json:"active" yaml:"active"`
}

func (SMSConfig) Provider() Provider { return ProviderSMS }

// Validate checks account credentials and sender header.
func (c SMSConfig) Validate() error {
	if c.Username == "" || c.Password == "" {
		return errors.New("credentials are required")
	}
	if strings.TrimSpace(c.Header) == "" {
		return errors.New("sender header is required")
	}
	return nil
}

// ExpoConfig configures push-token delivery.
type ExpoConfig struct {
	AccessToken string `json:"access_token" yaml:"access_token"`
	ChannelID   string `json:"channel_id" yaml:"channel_id"`
	Active      bool   `json:"active" yaml:"active"`
}

func (ExpoConfig) Provider() Provider { return ProviderExpo }

// Validate accepts any expo config; the access token is optional.
func (c ExpoConfig) Validate() error { return nil }

// FCMConfig configures push-topic delivery.
type FCMConfig struct {
	ProjectID       string `json:"project_id" yaml:"project_id"`
	CredentialsJSON string `json:"credentials_json" yaml:"credentials_json"`
	Active          bool   `json:"active" yaml:"active"`
}

func (FCMConfig) Provider() Provider { return ProviderFCM }

// Validate checks the service account material.
func (c FCMConfig) Validate() error {
	if c.ProjectID == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(c.CredentialsJSON) == "" {
		return errors.New("credentials are required")
	}
	return nil
}

// GatewayConfig configures the payment gateway merchant.
type GatewayConfig struct {
	Merchant         string      `json:"merchant" yaml:"merchant"`
	MerchantUser     string      `json:"merchant_user" yaml:"merchant_user"`
	MerchantPassword string      `json:"merchant_password" yaml:"merchant_password"`
	Environment      Environment `json:"environment" yaml:"environment"`
	ReturnURL        string      `json:"return_url" yaml:"return_url"`
	CancelURL        string      `json:"cancel_url" yaml:"cancel_url"`
	Active           bool        `json:"active" yaml:"active"`
}

func (GatewayConfig) Provider() Provider { return ProviderGateway }

// Validate checks the credential triple and environment.
func (c GatewayConfig) Validate() error {
	if c.Merchant == "" || c.MerchantUser == "" || c.MerchantPassword == "" {
		return errors.New("merchant credentials are required")
	}
	switch c.Environment {
	case EnvironmentTest, EnvironmentLive:
	default:
		return errors.New("environment must be test or live")
	}
	return nil
}

// TenantConfig is an immutable snapshot of one tenant's provider configuration.
// Sections that failed validation are dropped and their reason kept in Invalid.
type TenantConfig struct {
	TenantID string
	SMTP     *SMTPConfig
	SMS      *SMSConfig
	Expo     *ExpoConfig
	FCM      *FCMConfig
	Gateway  *GatewayConfig
	Invalid  map[Provider]string
	LoadedAt time.Time
}

// Set assigns a section, validating it first.
func (c *TenantConfig) Set(section Section) {
	if c == nil || section == nil {
		return
	}
	if err := section.Validate(); err != nil {
		if c.Invalid == nil {
			c.Invalid = make(map[Provider]string)
		}
		c.Invalid[section.Provider()] = err.Error()
		return
	}
	delete(c.Invalid, section.Provider())
	switch v := section.(type) {
	case SMTPConfig:
		c.SMTP = &v
	case SMSConfig:
		c.SMS = &v
	case ExpoConfig:
		c.Expo = &v
	case FCMConfig:
		c.FCM = &v
	case GatewayConfig:
		c.Gateway = &v
	}
}

// SMTPSettings returns the active SMTP config or a configuration error.
func (c *TenantConfig) SMTPSettings() (SMTPConfig, error) {
	if c == nil || c.SMTP == nil {
		return SMTPConfig{}, c.missing(ProviderSMTP)
	}
	if !c.SMTP.Active {
		return SMTPConfig{}, Missing(ProviderSMTP, "inactive")
	}
	return *c.SMTP, nil
}

// SMSSettings returns the active SMS config or a configuration error.
func (c *TenantConfig) SMSSettings() (SMSConfig, error) {
	if c == nil || c.SMS == nil {
		return SMSConfig{}, c.missing(ProviderSMS)
	}
	if !c.SMS.Active {
		return SMSConfig{}, Missing(ProviderSMS, "inactive")
	}
	return *c.SMS, nil
}

// ExpoSettings returns the expo config. Expo works without a tenant
// account, so an absent section yields defaults; an inactive one does not.
func (c *TenantConfig) ExpoSettings() (ExpoConfig, error) {
	if c == nil || c.Expo == nil {
		return ExpoConfig{Active: true}, nil
	}
	if !c.Expo.Active {
		return ExpoConfig{}, Missing(ProviderExpo, "inactive")
	}
	return *c.Expo, nil
}

// FCMSettings returns the active FCM config or a configuration error.
func (c *TenantConfig) FCMSettings() (FCMConfig, error) {
	if c == nil || c.FCM == nil {
		return FCMConfig{}, c.missing(ProviderFCM)
	}
	if !c.FCM.Active {
		return FCMConfig{}, Missing(ProviderFCM, "inactive")
	}
	return *c.FCM, nil
}

// GatewaySettings returns the active gateway config or a configuration error.
func (c *TenantConfig) GatewaySettings() (GatewayConfig, error) {
	if c == nil || c.Gateway == nil {
		return GatewayConfig{}, c.missing(ProviderGateway)
	}
	if !c.Gateway.Active {
		return GatewayConfig{}, Missing(ProviderGateway, "inactive")
	}
	return *c.Gateway, nil
}

func (c *TenantConfig) missing(provider Provider) error {
	if c != nil {
		if reason, ok := c.Invalid[provider]; ok {
			return Missing(provider, reason)
		}
	}
	return Missing(provider, "not configured")
}

const redactedSecret = "********"

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return redactedSecret
}

// Redacted returns the configured sections keyed by provider with every
// secret replaced, for display.
func (c *TenantConfig) Redacted() map[Provider]any {
	out := make(map[Provider]any)
	if c == nil {
		return out
	}
	if c.SMTP != nil {
		v := *c.SMTP
		v.Password = mask(v.Password)
		out[ProviderSMTP] = v
	}
	if c.SMS != nil {
		v := *c.SMS
		v.Password = mask(v.Password)
		out[ProviderSMS] = v
	}
	if c.Expo != nil {
		v := *c.Expo
		v.AccessToken = mask(v.AccessToken)
		out[ProviderExpo] = v
	}
	if c.FCM != nil {
		v := *c.FCM
		v.CredentialsJSON = mask(v.CredentialsJSON)
		out[ProviderFCM] = v
	}
	if c.Gateway != nil {
		v := *c.Gateway
		v.MerchantPassword = mask(v.MerchantPassword)
		out[ProviderGateway] = v
	}
	return out
}

// KeepSecrets fills secrets submitted as the redaction mask from the
// current snapshot, so a redacted form can be saved back unchanged.
func (c *TenantConfig) KeepSecrets(section Section) Section {
	if c == nil {
		return section
	}
	switch v := section.(type) {
	case SMTPConfig:
		if v.Password == redactedSecret && c.SMTP != nil {
			v.Password = c.SMTP.Password
		}
		return v
	case SMSConfig:
		if v.Password == redactedSecret && c.SMS != nil {
			v.Password = c.SMS.Password
		}
		return v
	case ExpoConfig:
		if v.AccessToken == redactedSecret && c.Expo != nil {
			v.AccessToken = c.Expo.AccessToken
		}
		return v
	case FCMConfig:
		if v.CredentialsJSON == redactedSecret && c.FCM != nil {
			v.CredentialsJSON = c.FCM.CredentialsJSON
		}
		return v
	case GatewayConfig:
		if v.MerchantPassword == redactedSecret && c.Gateway != nil {
			v.MerchantPassword = c.Gateway.MerchantPassword
		}
		return v
	}
	return section
}
