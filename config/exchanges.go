package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnsupportedShape is returned for exchanges files that match neither accepted layout
var ErrUnsupportedShape = errors.New("unsupported exchanges file shape")

// ExchangeCredentials hold the API key material of one exchange
type ExchangeCredentials struct {
	APIKey   string
	Secret   string
	Password string
}

// IsZero reports whether no field is set
func (c ExchangeCredentials) IsZero() bool {
	return c.APIKey == "" && c.Secret == "" && c.Password == ""
}

// ExchangesFile is the normalized content of an exchanges file
type ExchangesFile struct {
	DefaultExchange string
	Credentials     map[string]ExchangeCredentials
}

// field aliases accepted for each credential
var credentialFields = map[string]string{
	"api_key":    "key",
	"apikey":     "key",
	"key":        "key",
	"api_secret": "secret",
	"secret":     "secret",
	"password":   "password",
	"passphrase": "password",
}

// LoadExchangesFile reads a YAML (or JSON) exchanges file
func LoadExchangesFile(path string) (ExchangesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ExchangesFile{}, err
	}
	return ParseExchangesFile(data)
}

// ParseExchangesFile accepts two layouts and normalizes them:
//
//	binance: {api_key: ..., api_secret: ...}
//	ccxt: {exchanges: {binance: {api_key: ..., api_secret: ...}}}
//
// Optional top-level default_exchange (or exchange) names the default exchange.
func ParseExchangesFile(data []byte) (ExchangesFile, error) {
	out := ExchangesFile{Credentials: map[string]ExchangeCredentials{}}

	var root map[string]yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return out, fmt.Errorf("%w: %v", ErrUnsupportedShape, err)
	}

	if ccxt, ok := root["ccxt"]; ok {
		var nested struct {
			Exchanges map[string]yaml.Node `yaml:"exchanges"`
		}
		if err := ccxt.Decode(&nested); err != nil || nested.Exchanges == nil {
			return out, fmt.Errorf("%w: ccxt section without exchanges", ErrUnsupportedShape)
		}
		delete(root, "ccxt")
		if err := decodeEntries(nested.Exchanges, out.Credentials); err != nil {
			return out, err
		}
	}

	for _, key := range []string{"default_exchange", "exchange"} {
		node, ok := root[key]
		if !ok {
			continue
		}
		if node.Kind != yaml.ScalarNode {
			return out, fmt.Errorf("%w: %s must be a string", ErrUnsupportedShape, key)
		}
		if out.DefaultExchange == "" {
			out.DefaultExchange = strings.ToLower(strings.TrimSpace(node.Value))
		}
		delete(root, key)
	}

	if err := decodeEntries(root, out.Credentials); err != nil {
		return out, err
	}
	return out, nil
}

func decodeEntries(entries map[string]yaml.Node, into map[string]ExchangeCredentials) error {
	for id, node := range entries {
		if node.Kind != yaml.MappingNode {
			return fmt.Errorf("%w: entry %q is not a mapping", ErrUnsupportedShape, id)
		}
		var fields map[string]string
		if err := node.Decode(&fields); err != nil {
			return fmt.Errorf("%w: entry %q: %v", ErrUnsupportedShape, id, err)
		}

		var creds ExchangeCredentials
		for name, value := range fields {
			switch credentialFields[strings.ToLower(name)] {
			case "key":
				creds.APIKey = value
			case "secret":
				creds.Secret = value
			case "password":
				creds.Password = value
			default:
				return fmt.Errorf("%w: entry %q has unknown field %q", ErrUnsupportedShape, id, name)
			}
		}
		into[strings.ToLower(id)] = creds
	}
	return nil
}

// ApplyEnvCredentials overlays EXCHANGE_<ID>_API_KEY, _API_SECRET and _PASSWORD
// variables onto creds. Environment values win over file values.
func ApplyEnvCredentials(creds map[string]ExchangeCredentials, environ []string) {
	suffixes := []struct {
		suffix string
		set    func(*ExchangeCredentials, string)
	}{
		{"_API_KEY", func(c *ExchangeCredentials, v string) { c.APIKey = v }},
		{"_API_SECRET", func(c *ExchangeCredentials, v string) { c.Secret = v }},
		{"_PASSWORD", func(c *ExchangeCredentials, v string) { c.Password = v }},
	}

	sort.Strings(environ)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" || !strings.HasPrefix(key, "EXCHANGE_") {
			continue
		}
		rest := strings.TrimPrefix(key, "EXCHANGE_")
		for _, s := range suffixes {
			if id, found := strings.CutSuffix(rest, s.suffix); found && id != "" {
				id = strings.ToLower(id)
				c := creds[id]
				s.set(&c, value)
				creds[id] = c
				break
			}
		}
	}
}
