package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	// horizonURL and rpcURL point at live endpoints of a test network.
	horizonURL = os.Getenv("HORIZON_URL")
	rpcURL     = os.Getenv("RPC_URL")

	// friendbotURL is the URL of the friendbot endpoint used for testing.
	friendbotURL = os.Getenv("FRIENDBOT_URL")
)

// HorizonURL returns HORIZON_URL or skips the test.
func HorizonURL(t *testing.T) string {
	t.Helper()
	if horizonURL == "" {
		t.Skip("HORIZON_URL environment variable not set, skipping horizon integration tests")
	}
	return horizonURL
}

// RPCURL returns RPC_URL or skips the test.
func RPCURL(t *testing.T) string {
	t.Helper()
	if rpcURL == "" {
		t.Skip("RPC_URL environment variable not set, skipping RPC integration tests")
	}
	return rpcURL
}

// NetworkPassphrase fetches the network passphrase from the horizon root endpoint.
func NetworkPassphrase(t *testing.T, horizonURL string) string {
	t.Helper()

	// #nosec G107 - the url is from a trusted source configured in CI or local
	//nolint:noctx
	resp, err := http.Get(horizonURL)
	require.NoError(t, err)
	defer resp.Body.Close()

	var root struct {
		NetworkPassphrase string `json:"network_passphrase"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&root))
	return root.NetworkPassphrase
}

// FundAccount uses the friendbot endpoint to create and fund an account.
// It falls back to the friendbot mounted under horizonURL when FRIENDBOT_URL
// is unset, and skips the test when neither is available.
func FundAccount(t *testing.T, horizonURL, address string) error {
	t.Helper()

	base := friendbotURL
	if base == "" && horizonURL != "" {
		base = horizonURL + "/friendbot"
	}
	if base == "" {
		t.Skip("FRIENDBOT_URL environment variable not set, skipping test")
	}

	url := fmt.Sprintf("%s?addr=%s", base, address)

	// #nosec G107 - the url is from a trusted source configured in CI or local
	//nolint:noctx
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("friendbot returned status %d", resp.StatusCode)
	}

	var result struct {
		Successful bool `json:"successful"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return err
	}
	if !result.Successful {
		return fmt.Errorf("account funding failed")
	}
	return nil
}
