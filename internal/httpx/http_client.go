package httpx

import (
	"net/http"
	"time"
)

const defaultExternalHTTPTimeout = 60 * time.Second

// externalHTTPClient is shared by the Athena, Slack and Anthropic clients so a
// single timeout setting bounds every outbound call.
var externalHTTPClient = &http.Client{
	Timeout: defaultExternalHTTPTimeout,
}

func ExternalHTTPClient() *http.Client {
	return externalHTTPClient
}

func ConfigureExternalHTTPClient(timeoutSeconds int) time.Duration {
	timeout := defaultExternalHTTPTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	externalHTTPClient.Timeout = timeout
	return timeout
}
