package model

// Credentials authenticate every outbound call. They are set once and only read afterwards.
type Credentials struct {
	APIKey    string
	APISecret string
}

func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// Missing names the absent settings, in config key form.
func (c Credentials) Missing() []string {
	var missing []string
	if c.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if c.APISecret == "" {
		missing = append(missing, "api_secret")
	}
	return missing
}
