package marketdata

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestResolveIsTotal(t *testing.T) {
	registry := NewRegistry(testLogger())
	inputs := []string{"", "  ", "binance", "BINANCE", "nonexistent", "coinbase", "!!", "bybit"}

	for _, in := range inputs {
		if c := registry.Resolve(in); c == nil {
			t.Errorf("Resolve(%q) returned nil", in)
		}
	}
}

func TestResolveUnknownFallsBackToDefault(t *testing.T) {
	registry := NewRegistry(testLogger())
	c := registry.Resolve("nonexistent")
	if c.ID() != DefaultExchange {
		t.Errorf("Resolve(nonexistent).ID() = %q, want %q", c.ID(), DefaultExchange)
	}
	if c.HasCredentials() {
		t.Error("fallback client carries credentials")
	}
	for _, id := range registry.CachedIDs() {
		if id == "nonexistent" {
			t.Error("failed id was cached")
		}
	}
}

func TestResolveCachesClients(t *testing.T) {
	builds := 0
	factory := func(id string, creds Credentials, hc *http.Client) (*ExchangeClient, error) {
		builds++
		return NewExchangeClient(id, creds, hc)
	}
	registry := NewRegistry(testLogger(), WithClientFactory(factory))

	a := registry.Resolve("bybit")
	b := registry.Resolve(" ByBit ")
	if a != b {
		t.Error("Resolve returned different clients for the same id")
	}
	if builds != 1 {
		t.Errorf("factory called %d times, want 1", builds)
	}
}

func TestResolveFactoryFailureAndPanic(t *testing.T) {
	factory := func(id string, creds Credentials, hc *http.Client) (*ExchangeClient, error) {
		switch id {
		case "broken":
			return nil, errors.New("bad credentials")
		case "explodes":
			panic("boom")
		}
		return NewExchangeClient(id, creds, hc)
	}
	registry := NewRegistry(testLogger(), WithClientFactory(factory))

	for _, id := range []string{"broken", "explodes"} {
		c := registry.Resolve(id)
		if c == nil || c.ID() != DefaultExchange {
			t.Errorf("Resolve(%q) did not fall back to default", id)
		}
	}
}

func TestResolveRejectedCredentialsFallBack(t *testing.T) {
	registry := NewRegistry(testLogger(), WithCredentials(map[string]Credentials{
		"kucoin": {APIKey: "key", Secret: "secret"},
	}))
	if c := registry.Resolve("kucoin"); c.ID() != DefaultExchange {
		t.Errorf("kucoin without passphrase resolved to %q, want fallback", c.ID())
	}

	registry.SetCredentials("kucoin", Credentials{APIKey: "key", Secret: "secret", Password: "pass"})
	c := registry.Resolve("kucoin")
	if c.ID() != "kucoin" || !c.HasCredentials() {
		t.Errorf("after SetCredentials got %q (creds=%v)", c.ID(), c.HasCredentials())
	}
}

func TestRecognizedExchangeWithoutDriver(t *testing.T) {
	c := NewRegistry(testLogger()).Resolve("kraken")
	if c.ID() != "kraken" {
		t.Fatalf("ID = %q, want kraken", c.ID())
	}
	if c.Has(FeatureFetchOHLCV) {
		t.Error("kraken reports fetchOHLCV without a driver")
	}
	if _, err := c.FetchOHLCV(context.Background(), "BTC/USDT", "1h", 10, nil); !errors.Is(err, ErrNotSupported) {
		t.Errorf("FetchOHLCV error = %v, want ErrNotSupported", err)
	}
}
