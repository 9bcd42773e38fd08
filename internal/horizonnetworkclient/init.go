package horizonnetworkclient

import (
	"net/http"

	"github.com/stellar/go/clients/horizonclient"
)

const appName = "stellar-insights"

// NewHorizonClient creates a new horizon client using httpClient for transport.
func NewHorizonClient(horizonURL string, httpClient *http.Client) *horizonclient.Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &horizonclient.Client{
		HorizonURL: horizonURL,
		HTTP:       httpClient,
		AppName:    appName,
	}
}
