package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"
)

// MarketsFile is the list of lending markets the client knows about
type MarketsFile struct {
	Markets []Market `yaml:"markets"`
}

// Market holds the contract addresses of one lending market deployment
type Market struct {
	Name         string         `yaml:"name"`
	ChainID      uint64         `yaml:"chain_id"`
	Pool         string         `yaml:"pool"`
	RepayAdapter string         `yaml:"repay_adapter"`
	// Router is an optional V2 style swap router used for quotes
	Router       string         `yaml:"router"`
	NativeSymbol string         `yaml:"native_symbol"`
	Explorer     ExplorerConfig `yaml:"explorer"`
}

type ExplorerConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// LoadMarkets reads and validates a markets YAML file
func LoadMarkets(path string) (*MarketsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read markets file: %w", err)
	}
	return ParseMarkets(data)
}

// ParseMarkets decodes and validates markets YAML
func ParseMarkets(data []byte) (*MarketsFile, error) {
	var file MarketsFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode markets file: %w", err)
	}

	seen := make(map[string]bool)
	for i, m := range file.Markets {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("market %d: %w", i, err)
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("duplicate market %q", m.Name)
		}
		seen[m.Name] = true
	}
	return &file, nil
}

// Find returns the market called name
func (f *MarketsFile) Find(name string) (Market, error) {
	for _, m := range f.Markets {
		if m.Name == name {
			return m, nil
		}
	}
	return Market{}, fmt.Errorf("market %q not found", name)
}

func (m Market) Validate() error {
	var errors []string

	if m.Name == "" {
		errors = append(errors, "name must be specified")
	}
	if m.ChainID == 0 {
		errors = append(errors, "chain_id must be specified")
	}
	for _, f := range []struct{ name, addr string }{
		{"pool", m.Pool},
		{"repay_adapter", m.RepayAdapter},
	} {
		if !common.IsHexAddress(f.addr) {
			errors = append(errors, fmt.Sprintf("%s must be a hex address", f.name))
		}
	}
	if m.Router != "" && !common.IsHexAddress(m.Router) {
		errors = append(errors, "router must be a hex address")
	}
	if m.NativeSymbol == "" {
		errors = append(errors, "native_symbol must be specified")
	}
	if m.Explorer.URL == "" {
		errors = append(errors, "explorer url must be specified")
	}

	if len(errors) > 0 {
		return fmt.Errorf("invalid market: %s", strings.Join(errors, "; "))
	}
	return nil
}

func (m Market) PoolAddress() common.Address         { return common.HexToAddress(m.Pool) }
func (m Market) RepayAdapterAddress() common.Address { return common.HexToAddress(m.RepayAdapter) }
func (m Market) RouterAddress() common.Address       { return common.HexToAddress(m.Router) }

// TxExplorer builds transaction links for the market's block explorer
func (m Market) TxExplorer() Explorer {
	return Explorer{Name: m.Explorer.Name, BaseURL: strings.TrimRight(m.Explorer.URL, "/")}
}

// Explorer links transactions on a block explorer
type Explorer struct {
	Name    string
	BaseURL string
}

func (e Explorer) TxLink(hash common.Hash) string {
	return e.BaseURL + "/tx/" + hash.Hex()
}
