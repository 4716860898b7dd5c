package speech

import (
	"fmt"
	"strings"

	speechmodel "github.com/moodwheel/agent/backend/internal/model/speech"
)

// resolveCredentials returns the normalized AppID and AccessToken,
// with an explicit error when either is missing.
func resolveCredentials(cfg *speechmodel.SpeechConfig) (string, string, error) {
	if cfg == nil {
		return "", "", fmt.Errorf("speech config not initialized")
	}

	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}

	if appID == "" || token == "" {
		return "", "", fmt.Errorf("speech config missing AppID or AccessToken")
	}

	return appID, token, nil
}
