package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testBrowserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:126.0) Gecko/20100101 Firefox/126.0"

func quietBurstDetector(t *testing.T) *BurstDetector {
	t.Helper()
	b := NewBurstDetector(time.Second, 100000)
	t.Cleanup(b.Stop)
	return b
}

func browserRequest() *http.Request {
	r := httptest.NewRequest("POST", "/api/v1/checkout", nil)
	r.Header.Set("User-Agent", testBrowserUA)
	r.Header.Set("Accept", "application/json")
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	return r
}

func TestClassifierAllowsPlausibleBrowser(t *testing.T) {
	c := NewBotClassifier(quietBurstDetector(t), nil)
	d := c.Classify(browserRequest(), "203.0.113.9")
	require.True(t, d.Allowed)
}

func TestClassifierBlocksSignatureDespiteValidHeaders(t *testing.T) {
	c := NewBotClassifier(quietBurstDetector(t), nil)

	for _, ua := range []string{
		"curl/8.4.0",
		"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
		"Mozilla/5.0 (X11; Linux x86_64) HeadlessChrome/119.0.0.0",
		"python-requests/2.31.0",
	} {
		r := browserRequest()
		r.Header.Set("User-Agent", ua)
		d := c.Classify(r, "203.0.113.9")
		require.False(t, d.Allowed, "ua %q should be blocked", ua)
		require.Equal(t, ReasonSignatureMatch, d.Reason)
	}
}

func TestClassifierBlocksMissingOrShortHeaders(t *testing.T) {
	c := NewBotClassifier(quietBurstDetector(t), nil)

	r := browserRequest()
	r.Header.Del("Accept")
	d := c.Classify(r, "203.0.113.9")
	require.False(t, d.Allowed)
	require.Equal(t, ReasonMissingHeaders, d.Reason)

	r = browserRequest()
	r.Header.Set("User-Agent", "Mo")
	d = c.Classify(r, "203.0.113.9")
	require.False(t, d.Allowed)
	require.Equal(t, ReasonMissingHeaders, d.Reason)

	r = browserRequest()
	r.Header.Del("User-Agent")
	d = c.Classify(r, "203.0.113.9")
	require.False(t, d.Allowed)
	require.Equal(t, ReasonMissingHeaders, d.Reason)
}

func TestClassifierBlocksImplausiblyShortOrigin(t *testing.T) {
	c := NewBotClassifier(quietBurstDetector(t), nil)

	r := browserRequest()
	r.Header.Set("Origin", "http://x")
	d := c.Classify(r, "203.0.113.9")
	require.False(t, d.Allowed)
	require.Equal(t, ReasonImplausibleOrigin, d.Reason)

	r = browserRequest()
	r.Header.Set("Origin", "https://cafes.example.com")
	require.True(t, c.Classify(r, "203.0.113.9").Allowed)
}

func TestClassifierBurstRunsFirst(t *testing.T) {
	b := NewBurstDetector(time.Second, 0)
	defer b.Stop()
	c := NewBotClassifier(b, nil)

	// even an obvious bot UA reports velocity, because the burst check
	// precedes signature matching
	r := browserRequest()
	r.Header.Set("User-Agent", "curl/8.4.0")
	d := c.Classify(r, "203.0.113.9")
	require.False(t, d.Allowed)
	require.Equal(t, ReasonRateVelocity, d.Reason)
}

func TestClassifierCustomSignatures(t *testing.T) {
	c := NewBotClassifier(quietBurstDetector(t), []string{"EvilAgent"})

	r := browserRequest()
	r.Header.Set("User-Agent", "Mozilla/5.0 evilagent/1.0 like Gecko")
	d := c.Classify(r, "203.0.113.9")
	require.False(t, d.Allowed)
	require.Equal(t, ReasonSignatureMatch, d.Reason)

	// default list no longer applies
	r = browserRequest()
	r.Header.Set("User-Agent", "curl/8.4.0 padded out to look long")
	require.True(t, c.Classify(r, "203.0.113.9").Allowed)
}

func TestLoadSignatures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signatures.yaml")
	require.NoError(t, os.WriteFile(path, []byte("signatures:\n  - curl\n  - evilagent\n"), 0o600))

	sigs, err := LoadSignatures(path)
	require.NoError(t, err)
	require.Equal(t, []string{"curl", "evilagent"}, sigs)

	_, err = LoadSignatures(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
