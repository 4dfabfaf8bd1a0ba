package pkceflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/skratchdot/open-golang/open"

	"github.com/leonaii/kirocloud/internal/logging"
)

// URLOpener hands a login URL to a browser.
type URLOpener interface {
	Open(url string) error
}

// SystemOpener prefers a configured browser-automation endpoint and falls
// back to the OS default browser when that endpoint is unreachable.
type SystemOpener struct {
	// AutomationEndpoint, when set, receives POST {"url": ...}.
	AutomationEndpoint string
	HTTPClient         *http.Client
	Logger             *logging.Logger
}

func (o *SystemOpener) Open(url string) error {
	if o.AutomationEndpoint != "" {
		if err := o.openViaAutomation(url); err == nil {
			return nil
		} else if o.Logger != nil {
			o.Logger.Warn("browser automation endpoint failed, falling back to system browser", "error", err.Error())
		}
	}
	return open.Run(url)
}

func (o *SystemOpener) openViaAutomation(url string) error {
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	payload, err := json.Marshal(map[string]string{"url": url})
	if err != nil {
		return err
	}
	resp, err := client.Post(o.AutomationEndpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("automation endpoint status %d", resp.StatusCode)
	}
	return nil
}
